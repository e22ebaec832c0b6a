// Package custody implements balance-tracked fungible asset books: a
// mapping of holder → balance with a running total supply per asset.
//
// The vault is the asset-transfer primitive the pool engine builds on:
// debit-from-payer and credit-to-recipient, with a two-leg variant that
// commits or reverts as one unit. Pool shares are registered here as
// ordinary assets, so share balances and share supply are tracked the
// same way as custodied deposits.
package custody

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// ErrUnknownAsset is returned when an operation names an asset that
	// was never registered.
	ErrUnknownAsset = errors.New("custody: unknown asset")

	// ErrAssetExists is returned when registering a symbol twice.
	ErrAssetExists = errors.New("custody: asset already registered")

	// ErrInvalidSymbol is returned when an asset symbol does not match
	// the accepted format.
	ErrInvalidSymbol = errors.New("custody: invalid asset symbol")

	// ErrInsufficientBalance is returned when a debit or burn exceeds
	// the holder's balance.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
)

// symbolRegex matches asset symbols: uppercase alphanumeric with
// optional dash segments, e.g. USDC, WETH, LP-POOL-0.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*(-[A-Z0-9]+)*$`)

// book tracks one asset: holder balances plus the running supply.
type book struct {
	name     string
	supply   *uint256.Int
	balances map[string]*uint256.Int
}

// Vault holds the asset books. All operations take the vault lock once,
// so multi-step updates within one call are atomic.
type Vault struct {
	mu    sync.RWMutex
	books map[string]*book
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{books: make(map[string]*book)}
}

// NewAsset registers a fungible asset under the given symbol and credits
// the initial supply to holder. A zero initial supply registers an empty
// book (used for pool share assets, which are minted on deposit).
func (v *Vault) NewAsset(name, symbol string, initialSupply *uint256.Int, holder string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.books[symbol]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, symbol)
	}

	b := &book{
		name:     name,
		supply:   uint256.NewInt(0),
		balances: make(map[string]*uint256.Int),
	}
	if initialSupply != nil && !initialSupply.IsZero() {
		b.supply = initialSupply.Clone()
		b.balances[holder] = initialSupply.Clone()
	}
	v.books[symbol] = b
	return nil
}

// BalanceOf returns the holder's balance of an asset. Unknown holders
// have a zero balance.
func (v *Vault) BalanceOf(asset, holder string) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if bal, ok := b.balances[holder]; ok {
		return bal.Clone(), nil
	}
	return uint256.NewInt(0), nil
}

// Supply returns the running total supply of an asset.
func (v *Vault) Supply(asset string) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return b.supply.Clone(), nil
}

// Mint creates amount units of an asset and credits them to the holder.
func (v *Vault) Mint(asset, to string, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.books[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	b.credit(to, amount)
	b.supply.Add(b.supply, amount)
	return nil
}

// Burn destroys amount units of an asset from the holder's balance.
func (v *Vault) Burn(asset, from string, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.books[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.supply.Sub(b.supply, amount)
	return nil
}

// Transfer moves amount of an asset from payer to recipient. Fails with
// ErrInsufficientBalance, leaving no trace, if the payer cannot cover it.
func (v *Vault) Transfer(asset, from, to string, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.books[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.credit(to, amount)
	return nil
}

// TransferPair moves amountA of assetA and amountB of assetB from payer
// to recipient as one unit: both legs are checked before either is
// applied, so a failure on one leg leaves both books untouched.
func (v *Vault) TransferPair(assetA, assetB, from, to string, amountA, amountB *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bookA, ok := v.books[assetA]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetA)
	}
	bookB, ok := v.books[assetB]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetB)
	}

	if err := bookA.checkBalance(from, amountA, assetA); err != nil {
		return err
	}
	if err := bookB.checkBalance(from, amountB, assetB); err != nil {
		return err
	}

	bookA.debit(from, amountA) // cannot fail after checkBalance
	bookA.credit(to, amountA)
	bookB.debit(from, amountB)
	bookB.credit(to, amountB)
	return nil
}

func (b *book) checkBalance(holder string, amount *uint256.Int, asset string) error {
	bal, ok := b.balances[holder]
	if !ok || bal.Lt(amount) {
		available := uint256.NewInt(0)
		if ok {
			available = bal
		}
		return fmt.Errorf("%w: %s requested %s, available %s",
			ErrInsufficientBalance, asset, amount.Dec(), available.Dec())
	}
	return nil
}

func (b *book) debit(holder string, amount *uint256.Int) error {
	bal, ok := b.balances[holder]
	if !ok || bal.Lt(amount) {
		available := uint256.NewInt(0)
		if ok {
			available = bal
		}
		return fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientBalance, amount.Dec(), available.Dec())
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(b.balances, holder)
	}
	return nil
}

func (b *book) credit(holder string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	if bal, ok := b.balances[holder]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[holder] = amount.Clone()
}
