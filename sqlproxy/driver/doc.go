// Package driver is the "proxy" gsql backend. It runs every session and
// statement operation on a remote host (see package host) by sending JSON
// requests through a Transport, usually HTTPTransport.
//
// Usage:
//
//	reg, _ := gsql.NewRegistry(driver.New(
//		driver.WithTransport(driver.HTTPTransport("http://db-host:8080/", nil)),
//		driver.WithSigningKey(key),
//	))
//	disp, _ := gsql.NewDispatcher(gsql.Config{Registry: reg})
//	conn, err := disp.Connect(ctx, "proxy:/var/lib/app/app.db")
//
// The part of the DSN after "proxy:" is handed to the host's backend as is.
// When a signing key is set, connect requests carry a short-lived HS256
// token whose subject is that DSN, and a host configured with the same key
// refuses connects without one.
//
// Errors reported by the host arrive as *RemoteError. Their Code is the
// classification made by the host's backend, and errors.Is matches the gsql
// sentinels for truncation, unsupported operations and missing binds.
//
// A session is not safe for concurrent use, like any other gsql session.
package driver
