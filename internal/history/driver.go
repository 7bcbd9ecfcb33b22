package history

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/pageflow/internal/driver"
)

// DriverName is the SQLCipher driver registered with the selector_kind() function.
const DriverName = "sqlite3_pageflow"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("selector_kind", selectorKind, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register selector_kind SQL function: %w", err)
			}
			return nil
		},
	})
}

// selectorKind is exposed to SQL so stats can be grouped by selector engine.
func selectorKind(selector string) string {
	switch kind, _ := driver.Classify(selector); kind {
	case driver.XPath:
		return "xpath"
	case driver.Text:
		return "text"
	default:
		return "css"
	}
}
