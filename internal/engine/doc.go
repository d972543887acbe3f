// Package engine is the entry point of litecore: it opens a database file
// and wires the connection pool, the writer executor and change capture
// together behind one value.
//
// Reads and writes take different paths:
//   - Query and Read run on a reader handle and never wait for the writer.
//   - Execute, ExecScript, Transaction, Update and QueryWriter go through
//     the executor's FIFO queue on the single writer handle.
//
// Committed row changes are published to subscribers in commit order.
// Rolled-back changes are never published.
//
// Usage:
//
//	reg := extension.NewDefaultRegistry()
//	e, err := engine.Open(ctx, engine.Config{
//	    Pool: pool.Config{Path: "/var/lib/litecore/app.db", WALMode: true},
//	}, reg)
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	sub := e.Subscribe(ctx, changes.Filter{Tables: []string{"orders"}})
//	defer sub.Close()
//
//	_, err = e.Execute(ctx, "INSERT INTO orders (total) VALUES (?)", sqlval.Args(12.5))
package engine
