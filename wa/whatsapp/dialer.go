// Package whatsapp adapts the whatsmeow protocol library to the wa.Client
// boundary. Credentials are persisted in a sqlite-backed sqlstore container
// so that a tenant's session survives process restarts.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/vendio/wasession/wa"
)

var _ wa.Dialer = (*Dialer)(nil)

// Dialer creates whatsmeow-backed clients. One device row in the sqlstore
// container exists per paired tenant; the tenant index maps tenant ids to
// device JIDs across restarts.
type Dialer struct {
	container *sqlstore.Container
	index     *tenantIndex
}

// NewDialer opens (or creates) the credential store under dataFolder and
// runs any pending sqlstore migrations.
func NewDialer(ctx context.Context, dataFolder string) (*Dialer, error) {
	if err := os.MkdirAll(dataFolder, 0o750); err != nil {
		return nil, fmt.Errorf("[NewDialer] create data folder: %w", err)
	}

	dsn := filepath.Join(dataFolder, "credentials.db") + "?_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("[NewDialer] open credential store: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", newWALogger("sqlstore"))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("[NewDialer] sqlstore upgrade: %w", err)
	}

	index, err := loadTenantIndex(filepath.Join(dataFolder, "tenants.json"))
	if err != nil {
		return nil, fmt.Errorf("[NewDialer] load tenant index: %w", err)
	}

	return &Dialer{container: container, index: index}, nil
}

// Dial returns a client for the tenant, restoring the stored device when the
// tenant has paired before and provisioning a fresh one otherwise.
func (d *Dialer) Dial(ctx context.Context, tenantID string) (wa.Client, error) {
	device, err := d.deviceFor(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("[Dialer Dial] resolve device for %q: %w", tenantID, err)
	}

	cli := whatsmeow.NewClient(device, newWALogger("client/"+tenantID))
	cli.EnableAutoReconnect = true
	return newClient(tenantID, cli, d.index), nil
}

func (d *Dialer) deviceFor(ctx context.Context, tenantID string) (*store.Device, error) {
	jidStr, ok := d.index.Lookup(tenantID)
	if !ok {
		return d.container.NewDevice(), nil
	}

	jid, err := types.ParseJID(jidStr)
	if err != nil {
		log.Warn().Str("tenant_id", tenantID).Str("jid", jidStr).Err(err).
			Msg("corrupt tenant index entry, provisioning fresh device")
		return d.container.NewDevice(), nil
	}

	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, err
	}
	if device == nil {
		// Credentials were removed out of band; pair from scratch.
		log.Warn().Str("tenant_id", tenantID).Str("jid", jidStr).
			Msg("stored device missing, provisioning fresh device")
		return d.container.NewDevice(), nil
	}
	return device, nil
}
