package chain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	zmq "github.com/pebbe/zmq4"
)

// Block is a parsed block notification
type Block struct {
	Hash       chainhash.Hash
	PrevHash   chainhash.Hash
	Bits       uint32
	Difficulty float64
	Timestamp  time.Time
}

// BlockHandler receives each newly seen block exactly once
type BlockHandler func(ctx context.Context, block *Block) error

// Watcher subscribes to a node's rawblock ZMQ feed and emits parsed block
// notifications. Duplicate notifications for the same hash are dropped.
type Watcher struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
	seen     map[chainhash.Hash]struct{}
}

// NewWatcher creates a watcher for the given ZMQ endpoint
func NewWatcher(endpoint string, logger *slog.Logger) (*Watcher, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &Watcher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
		seen:     make(map[chainhash.Hash]struct{}),
	}, nil
}

// Connect connects to the ZMQ endpoint and subscribes to rawblock
func (w *Watcher) Connect() error {
	if err := w.socket.SetSubscribe("rawblock"); err != nil {
		return fmt.Errorf("failed to subscribe to rawblock: %w", err)
	}
	if err := w.socket.Connect(w.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", w.endpoint, err)
	}
	w.logger.Info("connected to ZMQ endpoint", "endpoint", w.endpoint)
	return nil
}

// Listen receives block notifications until the context is canceled
func (w *Watcher) Listen(ctx context.Context, handler BlockHandler) error {
	w.logger.Info("starting block listener")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("block listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := w.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				// No message available, continue
				continue
			}
			w.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			w.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		if topic != "rawblock" {
			w.logger.Warn("unknown ZMQ topic", "topic", topic)
			continue
		}

		block, err := ParseBlock(msg[1])
		if err != nil {
			w.logger.Error("failed to parse block notification", "error", err, "size", len(msg[1]))
			continue
		}

		if _, dup := w.seen[block.Hash]; dup {
			w.logger.Debug("duplicate block notification", "hash", block.Hash.String())
			continue
		}
		w.seen[block.Hash] = struct{}{}

		w.logger.Info("new block",
			"hash", block.Hash.String(),
			"difficulty", block.Difficulty)

		if err := handler(ctx, block); err != nil {
			w.logger.Error("failed to handle block", "hash", block.Hash.String(), "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (w *Watcher) Close() error {
	if w.socket != nil {
		return w.socket.Close()
	}
	return nil
}

// ParseBlock parses a rawblock payload. Only the 80-byte header is read; the
// transaction list is irrelevant to difficulty tracking.
func ParseBlock(raw []byte) (*Block, error) {
	if len(raw) < wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("block payload too short: %d bytes", len(raw))
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw[:wire.MaxBlockHeaderPayload])); err != nil {
		return nil, fmt.Errorf("failed to deserialize block header: %w", err)
	}

	return &Block{
		Hash:       header.BlockHash(),
		PrevHash:   header.PrevBlock,
		Bits:       header.Bits,
		Difficulty: DifficultyFromBits(header.Bits),
		Timestamp:  header.Timestamp,
	}, nil
}
