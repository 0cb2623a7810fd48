// Package gsql is a backend-agnostic query layer. A Dispatcher opens a Conn
// for a DSN such as "sqlite:/tmp/app.db" or "pgsql:host=db dbname=app" by
// matching the prefix against a Registry of drivers. Statements use $1..$N
// placeholders whatever the backend, and values cross the API through a
// small format language:
//
//	q, err := conn.NewQuery(ctx, "SELECT id, name FROM users WHERE team = $1")
//	if err != nil { ... }
//	defer q.Close()
//	if err := q.Bind(ctx, "i", 7); err != nil { ... }
//	for {
//		var id int64
//		var name string
//		var nameNull bool
//		ok, err := q.Fetch(ctx, "i ?S", &id, &nameNull, &name)
//		if err != nil || !ok { break }
//	}
//
// A failed operation leaves its error on the Conn; roll back or call
// Finish, then ClearError, before reusing it.
package gsql
