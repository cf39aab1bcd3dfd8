package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
)

// Router forces writes issued against the bridge into the shadow table.
// Two implementations exist: native trigger-backed routing where the target
// database supports INSTEAD OF triggers, and an application-level proxy for
// databases that do not. Both accept only insert-shaped requests.
type Router interface {
	// Install puts the routing in place for an open bridge.
	Install(ctx context.Context, b *Bridge) error

	// Remove tears the routing down. It is a no-op when the routing is
	// already absent.
	Remove(ctx context.Context, b *Bridge) error
}

// TriggerName returns the unqualified router trigger name for an identity.
func TriggerName(id migration.TableIdentity) string {
	return ViewName(id) + "_INS"
}

// TriggerRouter routes writes with a database-native INSTEAD OF INSERT
// trigger on the bridge view. Updates and deletes through the view fail in
// the database because no routing for them exists.
type TriggerRouter struct {
	// Gateway executes statements against the target database (required).
	Gateway db.Gateway
}

// Install creates the INSTEAD OF INSERT trigger forwarding rows into the
// shadow table.
func (r *TriggerRouter) Install(ctx context.Context, b *Bridge) error {
	stmt := fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s
INSTEAD OF INSERT ON %s
FOR EACH ROW
BEGIN
  INSERT INTO %s (%s) VALUES (%s);
END;`,
		ddl.Qualify(b.Identity.Schema, TriggerName(b.Identity)),
		b.View,
		b.Shadow.Qualified(),
		ddl.ColumnList(b.Columns),
		ddl.PrefixedColumnList(":NEW.", b.Columns))
	return r.Gateway.Execute(ctx, stmt)
}

// Remove drops the trigger if it exists.
func (r *TriggerRouter) Remove(ctx context.Context, b *Bridge) error {
	check := fmt.Sprintf(`SELECT COUNT(*) FROM all_triggers WHERE owner = %s AND trigger_name = %s`,
		ddl.Literal(b.Identity.Schema), ddl.Literal(TriggerName(b.Identity)))

	n, err := r.Gateway.QueryInt(ctx, check)
	if err != nil {
		return fmt.Errorf("router trigger existence check: %w", err)
	}
	if n == 0 {
		return nil
	}

	return r.Gateway.Execute(ctx, fmt.Sprintf("DROP TRIGGER %s", ddl.Qualify(b.Identity.Schema, TriggerName(b.Identity))))
}

var insertShaped = regexp.MustCompile(`(?i)^\s*INSERT\s`)

// ProxyRouter is an application-level router for databases without INSTEAD
// OF triggers. Callers issue their bridge writes through Route instead of
// the database; insert statements are rewritten to target the shadow table,
// anything else fails loudly.
type ProxyRouter struct {
	// Gateway executes statements against the target database (required).
	Gateway db.Gateway

	installed map[string]*Bridge
}

// Install registers the bridge for routing. No database object is created.
func (r *ProxyRouter) Install(ctx context.Context, b *Bridge) error {
	if r.installed == nil {
		r.installed = make(map[string]*Bridge)
	}
	r.installed[b.View] = b
	return nil
}

// Remove unregisters the bridge. It is a no-op if the bridge is not
// registered.
func (r *ProxyRouter) Remove(ctx context.Context, b *Bridge) error {
	delete(r.installed, b.View)
	return nil
}

// Route forwards an insert-shaped statement issued against the bridge into
// the shadow table, rewriting the view name. Updates and deletes return
// migration.ErrUnsupportedWrite: which physical row they should touch is
// ambiguous, and the router never resolves ambiguity silently.
func (r *ProxyRouter) Route(ctx context.Context, view string, stmt string) error {
	b, ok := r.installed[view]
	if !ok {
		return fmt.Errorf("no bridge registered for %s", view)
	}
	if !insertShaped.MatchString(stmt) {
		return fmt.Errorf("routing %q through bridge %s: %w", firstWord(stmt), view, migration.ErrUnsupportedWrite)
	}
	return r.Gateway.Execute(ctx, strings.ReplaceAll(stmt, view, b.Shadow.Qualified()))
}

func firstWord(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
