package health

import (
	"context"
	"net/http"
	"time"

	"appraisal-fulfillment/pkg/minio"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

// Pinger is a named reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type check struct {
	name string
	ping func(ctx context.Context) error
}

type health struct {
	checks  []check
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	Redis  *redis.Client `optional:"true"`
	Bucket *minio.Bucket `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{timeout: 3 * time.Second}
	if p.Redis != nil {
		h.checks = append(h.checks, check{name: "redis", ping: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	if p.Bucket != nil {
		h.checks = append(h.checks, check{name: "minio", ping: p.Bucket.Ping})
	}
	return h
}

// New builds a health service from arbitrary checks.
func New(pingers map[string]Pinger) HealthService {
	h := &health{timeout: 3 * time.Second}
	for name, p := range pingers {
		h.checks = append(h.checks, check{name: name, ping: p.Ping})
	}
	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

// Readiness answers 503 when any dependency is unreachable.
func (h *health) Readiness(c *gin.Context) {
	this := &Health{
		Status:  statusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	code := http.StatusOK
	for _, chk := range h.checks {
		dep := Dependency{Name: chk.name, Status: statusHealthy, Message: "OK"}
		if err := chk.ping(ctx); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			this.Status = statusUnhealthy
			this.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
		this.Deps = append(this.Deps, dep)
	}

	c.JSON(code, this)
}
