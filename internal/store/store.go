// Package store loads and saves the two files the engine persists to
// disk (spec.md §6 "Persisted state"): the contacts JSON map and the raw
// destination private-key file. Semantics are ported from the original
// Python kote/fs.py; write atomicity (write-then-rename) is an ambient
// addition the source does not require but SPEC_FULL.md §4 calls for.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/util"
)

var log = logging.Logger("kote/store")

// ContactsFileName is the on-disk name of the nickname→address JSON map.
const ContactsFileName = "contacts.json"

// KeyFileName is the on-disk name of the local destination's raw private
// key material.
const KeyFileName = "destination.key"

// LoadContacts reads the nickname→address JSON map from dataDir. A
// missing file is not an error; it returns an empty map (spec.md §6 is
// silent on first-run behavior; the original kote/fs.py treats a missing
// file the same way).
func LoadContacts(dataDir string) (map[string]string, error) {
	path := filepath.Join(dataDir, ContactsFileName)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}

	var contacts map[string]string
	if err := json.Unmarshal(b, &contacts); err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}
	return contacts, nil
}

// SaveContacts writes the nickname→address map to dataDir, write-then-
// rename.
func SaveContacts(dataDir string, contacts map[string]string) error {
	path := filepath.Join(dataDir, ContactsFileName)
	return util.WriteJSONFile(path, contacts)
}

// LoadDestinationKey reads the raw private key file from dataDir. Returns
// (nil, false, nil) if no key file exists yet, signalling the caller
// should allocate a fresh destination (spec.md §4.7 "Load or create local
// destination").
func LoadDestinationKey(dataDir string) ([]byte, bool, error) {
	path := filepath.Join(dataDir, KeyFileName)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read destination key: %w", err)
	}
	return b, true, nil
}

// SaveDestinationKey writes raw private key bytes to dataDir with
// restrictive permissions, creating the data directory if needed.
func SaveDestinationKey(dataDir string, key []byte) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, KeyFileName)
	return os.WriteFile(path, key, 0o600)
}

// Watcher hot-reloads contacts.json on external edits, invoking onChange
// with the freshly parsed map (SPEC_FULL.md §3 domain stack: fsnotify).
type Watcher struct {
	watcher *fsnotify.Watcher
	dataDir string
	onChange func(map[string]string)
	stop     chan struct{}
}

// NewWatcher starts watching dataDir/contacts.json for writes, calling
// onChange with the reloaded map whenever it changes on disk from outside
// the process.
func NewWatcher(dataDir string, onChange func(map[string]string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dataDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dataDir, err)
	}

	watcher := &Watcher{watcher: w, dataDir: dataDir, onChange: onChange, stop: make(chan struct{})}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) run() {
	target := filepath.Join(w.dataDir, ContactsFileName)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			contacts, err := LoadContacts(w.dataDir)
			if err != nil {
				log.Warnw("reload contacts failed", "err", err)
				continue
			}
			w.onChange(contacts)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("watcher error", "err", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
