package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
)

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) getStatus(c *gin.Context) {
	recs := r.node.Binds.Active()
	binds := make([]BindInfo, 0, len(recs))
	for _, rec := range recs {
		binds = append(binds, BindInfo{
			Index:      rec.Index,
			IEEE:       rec.IEEE.String(),
			State:      rec.State.String(),
			OnState:    rec.OnState,
			Functional: rec.State == bind.StateFunctional,
		})
	}

	resp := StatusResponse{
		ValidityBitmap: r.node.Binds.ValidityBitmap(),
		Restarts:       r.node.Config.Restarts(),
		AlarmsInUse:    r.node.Alarms.InUse(),
		Binds:          binds,
	}
	if r.node.Presence != nil {
		resp.Occupied = r.node.Presence.Occupied()
		resp.Suppressed = r.node.Presence.Suppressed()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) getConfig(c *gin.Context) {
	cfg := r.node.Config
	c.JSON(http.StatusOK, ConfigResponse{
		OnOffMode:            uint8(cfg.OnOffMode()),
		OnOffTimeoutSeconds:  uint16(cfg.OnOffTimeout() / time.Second),
		DetectionMode:        detectionModeByte(cfg),
		LD2412Mode:           uint8(cfg.LD2412Mode()),
		IlluminanceThreshold: cfg.IlluminanceThreshold(),
		ExternalOnOffSeconds: uint16(cfg.ExternalOnOffTimeout() / time.Second),
	})
}

func detectionModeByte(cfg *config.Manager) uint8 {
	var v uint8
	bits := []config.DetectionBit{
		config.EdgeMmWave, config.EdgePIRInternal, config.EdgeExternal,
		config.KeepMmWave, config.KeepPIRInternal, config.KeepExternal,
	}
	for _, b := range bits {
		if cfg.DetectionEnabled(b) {
			v |= uint8(b)
		}
	}
	return v
}

func (r *Router) patchConfig(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := r.valid.Validate(raw); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "schema_validation", Message: err.Error()})
		return
	}

	cfg := r.node.Config
	if v, ok := raw["on_off_mode"]; ok {
		if err := cfg.SetOnOffMode(config.OnOffMode(int(v.(float64)))); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
			return
		}
	}
	if v, ok := raw["on_off_timeout_seconds"]; ok {
		if err := cfg.SetOnOffTimeout(time.Duration(v.(float64)) * time.Second); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
			return
		}
	}
	if v, ok := raw["detection_mode"]; ok {
		mode := uint8(v.(float64))
		bits := []config.DetectionBit{
			config.EdgeMmWave, config.EdgePIRInternal, config.EdgeExternal,
			config.KeepMmWave, config.KeepPIRInternal, config.KeepExternal,
		}
		for _, b := range bits {
			if err := cfg.SetDetectionEnabled(b, mode&uint8(b) != 0); err != nil {
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
				return
			}
		}
	}
	if v, ok := raw["ld2412_mode"]; ok {
		if err := cfg.SetLD2412Mode(config.LD2412Mode(int(v.(float64)))); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
			return
		}
	}
	if v, ok := raw["illuminance_threshold"]; ok {
		if err := cfg.SetIlluminanceThreshold(uint8(v.(float64))); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
			return
		}
	}
	if v, ok := raw["external_on_off_seconds"]; ok {
		if err := cfg.SetExternalOnOffTimeout(time.Duration(v.(float64)) * time.Second); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
			return
		}
	}

	r.getConfig(c)
}

func (r *Router) factoryReset(c *gin.Context) {
	if err := r.node.Config.FactoryReset(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "config_error", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) restart(c *gin.Context) {
	if r.node.Restart == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "unsupported", Message: "restart is not wired on this node"})
		return
	}
	go r.node.Restart()
	c.Status(http.StatusAccepted)
}

func (r *Router) recheckBinds(c *gin.Context) {
	if err := r.node.Binds.Rescan(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "bind_error", Message: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
