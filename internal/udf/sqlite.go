package udf

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"modernc.org/sqlite"
)

// SQLite functions are registered process-wide and only once; each call
// dispatches to the catalog most recently passed to RegisterSQLite.
var (
	sqliteOnce    sync.Once
	sqliteErr     error
	sqliteCatalog atomic.Pointer[Catalog]
)

// RegisterSQLite makes the catalog's functions callable from every
// modernc.org/sqlite connection opened afterwards. Vector functions return a
// JSON array of floats; a NULL argument yields NULL. Calling a function the
// catalog does not provide (a variant that failed to load) is an error.
func RegisterSQLite(c *Catalog) error {
	sqliteCatalog.Store(c)
	sqliteOnce.Do(func() {
		for _, name := range []string{FuncEmbed, FuncEmbedJina, FuncEmbedrock} {
			if err := sqlite.RegisterScalarFunction(name, 1, sqliteVector(name)); err != nil {
				sqliteErr = fmt.Errorf("failed to register %s: %w", name, err)
				return
			}
		}
		if err := sqlite.RegisterScalarFunction(FuncBedrockInvoke, 1, sqliteText(FuncBedrockInvoke)); err != nil {
			sqliteErr = fmt.Errorf("failed to register %s: %w", FuncBedrockInvoke, err)
		}
	})
	return sqliteErr
}

func sqliteArg(args []driver.Value) (string, bool, error) {
	switch v := args[0].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	default:
		return "", false, fmt.Errorf("expected text argument, got %T", v)
	}
}

func sqliteVector(name string) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		text, ok, err := sqliteArg(args)
		if err != nil || !ok {
			return nil, err
		}
		c := sqliteCatalog.Load()
		fn, found := c.Vector(name)
		if !found {
			return nil, fmt.Errorf("function %s is not available", name)
		}

		var out ListVector
		if err := fn.Invoke(context.Background(), Strings{text}, &out); err != nil {
			return nil, err
		}
		data, err := json.Marshal(out.Row(0))
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

func sqliteText(name string) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		text, ok, err := sqliteArg(args)
		if err != nil || !ok {
			return nil, err
		}
		fn, found := sqliteCatalog.Load().Text(name)
		if !found {
			return nil, fmt.Errorf("function %s is not available", name)
		}
		out, err := fn.Invoke(context.Background(), Strings{text})
		if err != nil {
			return nil, err
		}
		return out[0], nil
	}
}
