// Package executor runs WASI guests under wazero and routes their host calls
// through a [Dispatcher], normally a *sandbox.Sandbox.
//
// # Basic Usage
//
//	exec, err := executor.New(sb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	result := exec.Run(ctx, executor.NewRaw("guest", wasm), "")
//	fmt.Println(result.Output)
//
// # Call protocol
//
// A guest calls the host by writing a frame to stderr and blocking on a
// response line from stdin:
//
//	stderr: \x00SANDPROXY:{"fn":"strtoupper","args":["hi"]}\x00
//	stdin:  {"data":"HI"}
//
// Refused calls answer with {"error":"...","kind":"invalid function call"}.
// Anything else written to stderr is returned as output.
//
// Guests get no filesystem, network or clock beyond what WASI exposes by
// default; host capabilities exist only as dispatched functions.
package executor
