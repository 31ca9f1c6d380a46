package vfd

import (
	"context"

	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Registrar performs the one-time device registration and initializes the
// fiscal counters from the GC returned by TRA.
type Registrar struct {
	client *VfdClient
	db     *gorm.DB
	ledger *ledger.Ledger
	clock  clockwork.Clock
}

func NewRegistrar(client *VfdClient, db *gorm.DB, l *ledger.Ledger, clock clockwork.Clock) *Registrar {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registrar{client: client, db: db, ledger: l, clock: clock}
}

// Ensure returns the stored registration, registering the device first when
// there is none. The ledger is bootstrapped in both cases.
func (r *Registrar) Ensure(ctx context.Context) (*store.Registration, error) {
	reg, err := store.LoadRegistration(ctx, r.db)
	if err != nil {
		return nil, err
	}

	if reg == nil {
		info, err := r.client.Register(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "register device")
		}
		reg = store.RegistrationFromInfo(info, r.clock.Now())
		if err := store.SaveRegistration(ctx, r.db, reg); err != nil {
			return nil, err
		}
	}

	if _, err := r.ledger.Bootstrap(ctx, reg.InitialGC); err != nil {
		return nil, err
	}
	return reg, nil
}

// Credential returns cred completed with the identifiers of reg.
func Credential(cred *keys.FiscalCredential, reg *store.Registration) *keys.FiscalCredential {
	if reg == nil {
		return cred
	}
	return cred.WithRegistration(reg.RegID, reg.ReceiptCode, reg.Serial)
}

// RegistrationCredentials token endpoint credentials read from the stored registration.
func RegistrationCredentials(db *gorm.DB) CredentialsFunc {
	return func(ctx context.Context) (string, string, error) {
		reg, err := store.LoadRegistration(ctx, db)
		if err != nil {
			return "", "", err
		}
		if reg == nil {
			return "", "", ErrNotRegistered
		}
		return reg.Username, reg.Password, nil
	}
}
