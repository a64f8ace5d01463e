package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"capital_waterfall/pkg/core/capital"
	"capital_waterfall/pkg/core/cascade"
)

// DefaultCacheDir is used when no directory is configured.
var DefaultCacheDir = filepath.Join(".cache", "distributions")

// ResultCache is the file-system Repository used when no database is
// configured. Each event is one JSON file under events/; each structure's
// ledger is one JSON file under accounts/. Safe for use by one process.
type ResultCache struct {
	mu  sync.Mutex
	dir string
}

// NewResultCache creates the cache directories under dir.
func NewResultCache(dir string) (*ResultCache, error) {
	if dir == "" {
		dir = DefaultCacheDir
	}
	for _, sub := range []string{"events", "accounts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	return &ResultCache{dir: dir}, nil
}

// Dir is the cache root.
func (c *ResultCache) Dir() string { return c.dir }

// Save folds every affected ledger in memory and stages it beside its file
// before claiming the event. Ledgers are only replaced once the claim holds;
// if any replacement fails, the ledgers already replaced are put back and the
// claim is released, so a failed Save leaves nothing applied.
func (c *ResultCache) Save(ctx context.Context, res *cascade.Result) error {
	if res.EventID == "" {
		return fmt.Errorf("distribution has no event id")
	}
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.eventPath(res.EventID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("event %s: %w", res.EventID, ErrAlreadyApplied)
	}

	staged, err := c.stageLedgers(ctx, res)
	defer func() {
		for _, st := range staged {
			os.Remove(st.tmp)
		}
	}()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("event %s: %w", res.EventID, ErrAlreadyApplied)
		}
		return fmt.Errorf("failed to create event file: %w", err)
	}
	_, werr := f.Write(payload)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write event file: %w", werr)
	}

	for i, st := range staged {
		if err := os.Rename(st.tmp, st.path); err != nil {
			c.restoreLedgers(staged[:i])
			os.Remove(path)
			return fmt.Errorf("failed to replace ledger %q: %w", st.structure, err)
		}
	}
	return nil
}

// stagedLedger is a folded ledger written next to the file it replaces.
type stagedLedger struct {
	structure string
	path      string
	tmp       string
	prior     []byte // nil when the structure had no ledger file
}

// stageLedgers folds res into every paid level's ledger and writes each result
// to a temp file. Levels sharing a structure fold onto one ledger.
func (c *ResultCache) stageLedgers(ctx context.Context, res *cascade.Result) ([]stagedLedger, error) {
	var staged []stagedLedger
	folded := map[string]*capital.Ledger{}
	prior := map[string][]byte{}
	var order []string

	for _, l := range res.Levels {
		if l.Method == cascade.MethodNone {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ledger, ok := folded[l.StructureName]
		if !ok {
			data, err := c.readLedgerFile(l.StructureName)
			if err != nil {
				return nil, err
			}
			if ledger, err = decodeLedger(data); err != nil {
				return nil, err
			}
			prior[l.StructureName] = data
			order = append(order, l.StructureName)
		}
		folded[l.StructureName] = cascade.FoldLedger(res, l.Level, ledger)
	}

	for _, name := range order {
		data, err := json.MarshalIndent(folded[name].Accounts(), "", "  ")
		if err != nil {
			return staged, fmt.Errorf("failed to marshal ledger: %w", err)
		}
		path := c.accountsPath(name)
		st := stagedLedger{structure: name, path: path, tmp: path + ".tmp", prior: prior[name]}
		if err := os.WriteFile(st.tmp, data, 0o644); err != nil {
			return staged, fmt.Errorf("failed to write ledger %q: %w", name, err)
		}
		staged = append(staged, st)
	}
	return staged, nil
}

// restoreLedgers puts back the ledgers a failed Save already replaced.
func (c *ResultCache) restoreLedgers(replaced []stagedLedger) {
	for _, st := range replaced {
		if st.prior == nil {
			os.Remove(st.path)
			continue
		}
		if err := os.WriteFile(st.tmp, st.prior, 0o644); err == nil {
			os.Rename(st.tmp, st.path)
		}
	}
}

// Load returns a stored distribution.
func (c *ResultCache) Load(ctx context.Context, eventID string) (*cascade.Result, error) {
	data, err := os.ReadFile(c.eventPath(eventID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	var res cascade.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached distribution: %w", err)
	}
	return &res, nil
}

// LoadAccounts returns the stored ledger of structureName.
func (c *ResultCache) LoadAccounts(ctx context.Context, structureName string) (*capital.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLedger(structureName)
}

func (c *ResultCache) readLedger(structureName string) (*capital.Ledger, error) {
	data, err := c.readLedgerFile(structureName)
	if err != nil {
		return nil, err
	}
	return decodeLedger(data)
}

// readLedgerFile returns the raw ledger file, or nil when there is none.
func (c *ResultCache) readLedgerFile(structureName string) ([]byte, error) {
	data, err := os.ReadFile(c.accountsPath(structureName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return data, nil
}

func decodeLedger(data []byte) (*capital.Ledger, error) {
	if data == nil {
		return capital.NewLedger(nil)
	}
	var accounts []capital.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger: %w", err)
	}
	return capital.NewLedger(accounts)
}

func (c *ResultCache) eventPath(eventID string) string {
	return filepath.Join(c.dir, "events", fileKey(eventID)+".json")
}

func (c *ResultCache) accountsPath(structureName string) string {
	return filepath.Join(c.dir, "accounts", fileKey(structureName)+".json")
}

// fileKey maps an arbitrary id onto one safe path segment.
func fileKey(id string) string {
	if id == "" {
		return "_default"
	}
	return "k_" + url.PathEscape(id)
}
