package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

const snapshotVersion = 1

// snapshotFile is the on-disk layout: a zstd stream holding one CBOR item.
type snapshotFile struct {
	Version int                   `cbor:"1,keyasint"`
	NextID  int64                 `cbor:"2,keyasint"`
	Tickets []domain.TicketRecord `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	if encMode, err = encOptions.EncMode(); err != nil {
		panic("memory: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}).DecMode(); err != nil {
		panic("memory: CBOR decoder initialization failed: " + err.Error())
	}
}

// writeSnapshot replaces path atomically: the data goes to a temp file in
// the same directory which is synced and renamed over the old snapshot.
func writeSnapshot(path string, tickets []domain.Ticket, next int64) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	snap := snapshotFile{Version: snapshotVersion, NextID: next, Tickets: make([]domain.TicketRecord, len(tickets))}
	for i, t := range tickets {
		snap.Tickets[i] = domain.ToRecord(t)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := encMode.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("cbor encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSnapshot loads a snapshot. A missing file yields an empty store.
func readSnapshot(path string) ([]domain.Ticket, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 1, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Close()

	var snap snapshotFile
	err = decMode.NewDecoder(bufio.NewReaderSize(dec, 256*1024)).Decode(&snap)
	if errors.Is(err, io.EOF) {
		return nil, 1, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("cbor decode %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, 0, fmt.Errorf("snapshot %s: unsupported version %d", path, snap.Version)
	}
	tickets := make([]domain.Ticket, 0, len(snap.Tickets))
	for _, rec := range snap.Tickets {
		t, err := domain.FromRecord(rec)
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot %s: %w", path, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, snap.NextID, nil
}
