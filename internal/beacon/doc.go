// Package beacon sends the lab "files encrypted" status beacon.
//
// A Sender POSTs a small JSON payload a bounded number of times, waiting a
// fixed interval between bursts. Delivery is best effort: transport errors
// and non-2xx answers are logged and recorded in the Report, never retried
// and never returned as errors. The wait between bursts is cancellable.
package beacon
