package aevip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aevrt/pkg/api"
	"aevrt/pkg/memkv"
	"aevrt/pkg/task"
)

const (
	mailboxPrefix = "result:"
	// results linger long enough for a coordinator to poll them, then expire
	mailboxTTL = 5 * time.Minute
)

// Receiver is the worker-node side of the protocol: it verifies packet
// signatures, executes tiles through modality adapters and serves results to
// polling coordinators.
type Receiver struct {
	secret   string
	adapters map[task.Type]api.ModalityAdapter
	mailbox  *memkv.Store
}

// NewReceiver builds a receiver with its own result mailbox.
func NewReceiver(secret string, adapters map[task.Type]api.ModalityAdapter) *Receiver {
	return &Receiver{
		secret:   secret,
		adapters: adapters,
		mailbox:  memkv.New(memkv.Options{JanitorInterval: time.Minute}),
	}
}

// Close stops the mailbox janitor.
func (r *Receiver) Close() { r.mailbox.Close() }

// Routes mounts the AevIP endpoints.
func (r *Receiver) Routes(e *gin.Engine) {
	e.POST(ReceivePath, r.handleReceive)
	e.GET(ResultPath+":task_id", r.handleResult)
}

func (r *Receiver) handleReceive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	pkt, err := Decode(body, r.secret, c.GetHeader(SignatureHeader))
	if errors.Is(err, ErrBadSignature) {
		zap.L().Warn("bad packet signature", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed packet"})
		return
	}
	if pkt.PacketType != PacketTypeTask || pkt.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected packet type"})
		return
	}

	r.storeEnvelope(ResultEnvelope{PacketType: PacketTypeResult, TaskID: pkt.TaskID, Status: StatusPending})
	go r.execute(pkt)

	zap.L().Info("packet accepted",
		zap.String("task", pkt.TaskID),
		zap.Int("tiles", len(pkt.Tiles)),
		zap.String("sender", pkt.Sender))
	c.JSON(http.StatusAccepted, gin.H{"task_id": pkt.TaskID, "status": StatusPending})
}

func (r *Receiver) execute(pkt Packet) {
	ctx := context.Background()
	if pkt.Options.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(pkt.Options.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	results := make([]task.Result, 0, len(pkt.Tiles))
	for _, tile := range pkt.Tiles {
		adapter, ok := r.adapters[tile.Type]
		if !ok {
			results = append(results, task.ErrorResult(tile.Index, "unsupported tile type "+tile.Type.String()))
			continue
		}
		start := time.Now()
		res, err := adapter.Execute(ctx, tile)
		if err != nil {
			results = append(results, task.ErrorResult(tile.Index, err.Error()))
			continue
		}
		res.TileIndex = tile.Index
		res.Success = true
		if res.LatencyMS == 0 {
			res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
		}
		results = append(results, res)
	}
	r.storeEnvelope(ResultEnvelope{
		PacketType: PacketTypeResult,
		TaskID:     pkt.TaskID,
		Status:     StatusComplete,
		Results:    results,
	})
}

func (r *Receiver) storeEnvelope(env ResultEnvelope) {
	b, _ := json.Marshal(env)
	r.mailbox.Set(mailboxPrefix+env.TaskID, b, mailboxTTL)
}

func (r *Receiver) handleResult(c *gin.Context) {
	taskID := c.Param("task_id")
	b, ok := r.mailbox.Get(mailboxPrefix + taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	var env ResultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt mailbox entry"})
		return
	}
	if env.Status != StatusComplete {
		c.JSON(http.StatusAccepted, env)
		return
	}
	c.JSON(http.StatusOK, env)
}
