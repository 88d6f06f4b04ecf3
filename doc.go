// Package sandproxy routes function calls made by sandboxed code through an
// allow-list policy before they reach the host.
//
// # Overview
//
// A [policy.Policy] lists which functions, constants and superglobals guest
// code may reach, and may define overrides that shadow host functions. A
// [sandbox.Sandbox] binds a policy to a host function table and dispatches
// calls: overrides first, then host functions that pass the validator,
// otherwise an invalid function call error. Nothing reaches the host by
// default.
//
// # Basic Usage
//
//	p := policy.New().AllowFunction("str*").DenyFunction("str_repeat")
//	sb, _ := sandbox.New(p, nil, sandbox.WithHost(hostfunc.Stdlib()))
//
//	out, err := sb.Dispatch(ctx, "strtoupper", "hello") // "HELLO", nil
//	_, err = sb.Dispatch(ctx, "system", "id")            // invalid function call: "system"
//
// # Sharing Sandboxes
//
// Sandboxes with equivalent policies have the same [sandbox.Sandbox.Hash].
// A [registry.Registry] keeps one instance per hash and counts references:
//
//	reg := registry.New[*sandbox.Sandbox]()
//	sb = reg.Register(sb) // existing instance if the hash is known
//	defer reg.Release(sb)
//
// # Guests
//
// The [script] package runs JavaScript (goja) whose only route out is a
// call into a sandbox. The [executor] package runs WASI modules (wazero)
// that send framed call requests over stderr.
//
// Policies load from TOML, YAML or JSON with [policy.Load], layering files
// left to right.
package sandproxy
