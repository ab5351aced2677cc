package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/robotalks/minghe.go/pkg/minghe"
	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

// Device is what the API needs from the controller.
type Device interface {
	Do(ctx context.Context, op Op) (interface{}, error)
	Get(ctx context.Context, name string) (uint32, error)
	Set(ctx context.Context, name string, value uint32) error
	Last() Snapshot
}

// API serves the HTTP endpoints.
type API struct {
	Device         Device
	DeviceID       string
	Metrics        http.Handler
	Limiter        *rate.Limiter
	CommandTimeout time.Duration
}

type setBody struct {
	Value *uint32 `json:"value" binding:"required"`
}

// Handler builds the gin router.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", a.ready)
	if a.Metrics != nil {
		r.GET("/metrics", gin.WrapH(a.Metrics))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/status", a.status)
	v1.GET("/attributes", a.listAttributes)
	v1.GET("/attributes/:name", a.getAttribute)
	writes := v1.Group("", a.limit)
	writes.PUT("/attributes/:name", a.setAttribute)
	writes.POST("/memory/:slot/:op", a.memory)
	return r
}

func (a *API) limit(c *gin.Context) {
	if a.Limiter != nil && !a.Limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many writes"})
		return
	}
	c.Next()
}

func (a *API) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if a.CommandTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), a.CommandTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (a *API) ready(c *gin.Context) {
	snap := a.Device.Last()
	if snap.Status == nil || snap.Err != nil {
		c.String(http.StatusServiceUnavailable, "not-ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

func (a *API) status(c *gin.Context) {
	snap := a.Device.Last()
	if snap.Time.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not polled yet"})
		return
	}
	resp := gin.H{
		"device": a.DeviceID,
		"status": snap.Status,
		"time":   snap.Time,
	}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

type attribute struct {
	comm.CommandInfo
	Letter   string `json:"letter"`
	Readable bool   `json:"readable"`
	Writable bool   `json:"writable"`
}

func (a *API) listAttributes(c *gin.Context) {
	infos := comm.Commands()
	attrs := make([]attribute, 0, len(infos))
	for _, info := range infos {
		attrs = append(attrs, attribute{
			CommandInfo: info,
			Letter:      string(rune(info.Command)),
			Readable:    info.Readable(),
			Writable:    info.Writable(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"attributes": attrs})
}

func (a *API) getAttribute(c *gin.Context) {
	name := c.Param("name")
	ctx, cancel := a.context(c)
	defer cancel()
	val, err := a.Device.Get(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": val})
}

func (a *API) setAttribute(c *gin.Context) {
	name := c.Param("name")
	var body setBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := a.context(c)
	defer cancel()
	if err := a.Device.Set(ctx, name, *body.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": *body.Value})
}

func (a *API) memory(c *gin.Context) {
	slot, err := strconv.ParseUint(c.Param("slot"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		return
	}
	var op Op
	switch c.Param("op") {
	case "store":
		op = func(conv *minghe.Converter) (interface{}, error) {
			return nil, conv.StoreToMemory(uint8(slot))
		}
	case "load":
		op = func(conv *minghe.Converter) (interface{}, error) {
			return nil, conv.LoadFromMemory(uint8(slot))
		}
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown memory operation"})
		return
	}
	ctx, cancel := a.context(c)
	defer cancel()
	if _, err = a.Device.Do(ctx, op); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot, "op": c.Param("op")})
}

// StatusOf maps a device error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, minghe.ErrUnknownAttribute):
		return http.StatusNotFound
	case errors.Is(err, minghe.ErrNotReadable), errors.Is(err, minghe.ErrNotWritable):
		return http.StatusMethodNotAllowed
	case errors.Is(err, comm.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, comm.ErrNotAcknowledged), errors.Is(err, comm.ErrReadbackMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, comm.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrNotRunning):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeError(c *gin.Context, err error) {
	c.JSON(StatusOf(err), gin.H{"error": err.Error()})
}
