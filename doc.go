// Package gateway implements the governance and traffic-capture layer of an
// HTTP reverse proxy placed in front of an OpenSearch cluster.
//
// The proxy reconstructs complete HTTP messages from the byte stream of each
// connection, evaluates an ordered list of governance rules against every
// client request, and either forwards the (possibly rewritten) request to the
// backend or rejects it and closes the connection. Independently of the live
// path, a redacted and size-bounded record of every request and response is
// emitted to one or more capture targets.
//
// Basic usage:
//
//	gov, err := gateway.LoadGovernanceConfig("governance.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	extractor, err := gateway.NewIdentityExtractor("", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	proxy := gateway.NewProxy(":9200", "opensearch:9200", gov)
//	proxy.Capture = gateway.NewFanout(gateway.NewLogTarget(gateway.LogTargetConfig{}))
//	proxy.CaptureBuilder = gateway.NewRecordBuilder(false, extractor)
//
//	log.Fatal(proxy.ListenAndServe())
//
// Governance is fail-open: a rule that cannot establish its preconditions
// (unsupported URL shape, non-JSON body, evaluation error) passes the
// request. Capture is best-effort and never affects the live path.
package gateway
