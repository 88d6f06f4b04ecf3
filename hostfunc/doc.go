// Package hostfunc provides the host side of a sandbox: the functions,
// constants and global tables that sandboxed code may reach once a policy
// allows it.
//
// # Registry
//
// A [Registry] holds named [Func] values. Arguments are positional, in the
// order the guest passed them:
//
//	r := hostfunc.NewRegistry()
//	r.Register("greet", func(ctx context.Context, args []any) (any, error) {
//	    name, err := hostfunc.String(args, 0)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return "hello " + name, nil
//	})
//
// [String], [Int], [Float], [Bool], [List] and [Map] read arguments and
// report an [ArgError] when one is missing or has the wrong shape.
//
// # Built-in Capabilities
//
// [Stdlib] returns a registry with side-effect free string functions
// (strtoupper, trim, implode, ...) and a few host constants.
//
// HTTP: Controlled network access via [HTTP] and [HTTPConfig].
//
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	}).Install(r)
//
// Filesystem: Mount-based access via [FS], [Mount], and [MountMode].
//
//	hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly},
//	}).Install(r)
//
// Key-Value Store: In-memory storage via [KV] and [KVConfig].
//
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Install(r)
//
// # Security Model
//
// Registering a function does not expose it. A sandbox only dispatches to a
// host function whose name passes its policy. Each capability is further
// bounded on its own:
//   - HTTP requests are limited to explicitly allowed hosts
//   - Filesystem access is restricted to mounted paths with specific permissions
//   - All operations have configurable size limits
package hostfunc
