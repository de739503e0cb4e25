// Package journal keeps a tamper-evident local log of the proofs this node
// registered with its own signer. Each entry is chained to the previous one
// by SHA-256, so editing or dropping a past entry breaks every later hash.
package journal

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"resenje.org/hashchain"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
)

// MessageSize is digest(32) | txHash(32) | creator(20) | block(8) | timestamp(8).
const MessageSize = fingerprint.Size + common.HashLength + common.AddressLength + 8 + 8

// Receipt is one journal entry.
type Receipt struct {
	ID          int                `json:"id"`
	RecordedAt  time.Time          `json:"recordedAt"`
	Digest      fingerprint.Digest `json:"hash"`
	TxHash      common.Hash        `json:"txHash"`
	Creator     string             `json:"creator"`
	BlockNumber uint64             `json:"blockNumber"`
	Timestamp   uint64             `json:"timestamp"`
	Chain       string             `json:"chainHash"`
}

type Journal struct {
	mu  sync.Mutex
	f   *os.File
	w   *hashchain.Writer
	r   *hashchain.Reader
	now func() time.Time
}

func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	w, err := hashchain.NewWriter(f, sha256.New, MessageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{f: f, w: w, r: hashchain.NewReader(f, sha256.New, MessageSize), now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.f.Close()
}

// Append records a confirmed proof. Records without inclusion data are
// rejected; only confirmed registrations belong in the journal.
func (j *Journal) Append(rec *proof.Record) (*Receipt, error) {
	if !rec.HasInclusion() {
		return nil, errors.New("journal: record has no inclusion data")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	// Reads move the shared offset; the writer appends at the current one.
	if _, err := j.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	at := j.now()
	id, hash, err := j.w.Write(at, encode(rec))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	r := receiptOf(rec)
	r.ID, r.RecordedAt, r.Chain = id, time.Unix(0, at.UnixNano()), common.Bytes2Hex(hash)
	return r, nil
}

// Recent returns up to limit entries, newest first, verifying the chain as it
// goes.
func (j *Journal) Recent(limit int) ([]Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []Receipt{}
	if limit <= 0 {
		return out, nil
	}
	err := j.r.Iterate(-1, func(r *hashchain.Record) (bool, error) {
		rec, err := decode(r.Message)
		if err != nil {
			return false, err
		}
		receipt := receiptOf(rec)
		receipt.ID, receipt.RecordedAt, receipt.Chain = r.ID, r.Time, common.Bytes2Hex(r.Hash)
		out = append(out, *receipt)
		return len(out) < limit, nil
	})
	if err != nil && !errors.Is(err, hashchain.ErrNotFound) {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return out, nil
}

func receiptOf(rec *proof.Record) *Receipt {
	return &Receipt{
		Digest:      rec.Digest,
		TxHash:      rec.TxHash,
		Creator:     rec.Creator.Hex(),
		BlockNumber: rec.BlockNumber,
		Timestamp:   rec.Timestamp,
	}
}

func encode(rec *proof.Record) []byte {
	msg := make([]byte, 0, MessageSize)
	msg = append(msg, rec.Digest[:]...)
	msg = append(msg, rec.TxHash[:]...)
	msg = append(msg, rec.Creator[:]...)
	msg = binary.BigEndian.AppendUint64(msg, rec.BlockNumber)
	return binary.BigEndian.AppendUint64(msg, rec.Timestamp)
}

func decode(msg []byte) (*proof.Record, error) {
	if len(msg) != MessageSize {
		return nil, fmt.Errorf("journal: message of %d bytes", len(msg))
	}
	rec := new(proof.Record)
	n := copy(rec.Digest[:], msg)
	n += copy(rec.TxHash[:], msg[n:])
	n += copy(rec.Creator[:], msg[n:])
	rec.BlockNumber = binary.BigEndian.Uint64(msg[n:])
	rec.Timestamp = binary.BigEndian.Uint64(msg[n+8:])
	return rec, nil
}
