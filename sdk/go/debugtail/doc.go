// Package debugtail sends debug events from a Go program to a running
// `debugtail listen` console.
//
// Usage:
//
//	dt, err := debugtail.New(debugtail.WithBacktraces(true))
//	defer dt.Close()
//	defer dt.Recover()
//
//	dt.Dump(order)
//	stop := dt.Timer("load")
//	load()
//	stop()
//
//	charge := debugtail.Wrap(dt, "payments.Charge", payments.Charge, Receipt{})
//	dt.SetMode("payments.Charge", debugtail.Prevented)
//
// Settings come from ~/.debugtail/config.yaml and the DEBUGTAIL_*
// environment variables; options passed to New take precedence. Nothing
// the client does returns an error to, or panics into, the program once
// New has succeeded.
package debugtail
