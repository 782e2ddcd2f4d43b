package health

import (
	"context"
	"encoding/json"
	"runtime"
	"strconv"
	"time"

	"apolice-backend/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// DBPinger is optional. If nil, the database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// BacklogFunc reports signing tasks per status (pending, running, done, dead).
type BacklogFunc func(ctx context.Context) (map[string]int64, error)

// Report is the /health/json body.
type Report struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Dependencies map[string]DepStatus `json:"dependencies"`
	Signing      SigningInfo          `json:"signing"`
}

type RuntimeInfo struct {
	UptimeSeconds int64  `json:"uptimeSeconds"`
	HeapMB        int    `json:"heapMB"`
	Goroutines    int    `json:"goroutines"`
	GoVersion     string `json:"goVersion"`
}

type TrafficInfo struct {
	TotalRequests   int              `json:"totalRequests"`
	SuccessCount    int              `json:"successCount"`
	FailedCount     int              `json:"failedCount"`
	SuccessRate     string           `json:"successRate"`
	AvgResponseTime string           `json:"avgResponseTime"`
	LastRequest     interface{}      `json:"lastRequest"`
	Webhooks        map[string]int64 `json:"webhooks"`
}

type DepStatus struct {
	Status string `json:"status"`
	PingMs *int64 `json:"pingMs"`
}

// SigningInfo is the durable signing queue snapshot.
type SigningInfo struct {
	Status  string           `json:"status"`
	Backlog map[string]int64 `json:"backlog"`
}

// Collect gathers DB and Redis reachability, request counters written by middleware.HealthMarker
// and the signing queue backlog. Status is "ok" only when both stores answer and no task is dead.
func Collect(ctx context.Context, rdb *redis.Client, db DBPinger, backlog BacklogFunc) Report {
	r := Report{Dependencies: make(map[string]DepStatus)}

	dbStatus := DepStatus{Status: "disconnected"}
	if db != nil {
		start := time.Now()
		if err := db.Ping(); err == nil {
			ms := time.Since(start).Milliseconds()
			dbStatus = DepStatus{Status: "connected", PingMs: &ms}
		} else {
			dbStatus.Status = "error"
		}
	}
	r.Dependencies["database"] = dbStatus

	redisStatus := DepStatus{Status: "disconnected"}
	r.Traffic = TrafficInfo{SuccessRate: "100", AvgResponseTime: "0", Webhooks: map[string]int64{}}
	startMs := time.Now().UnixMilli()
	if rdb != nil {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err == nil {
			ms := time.Since(start).Milliseconds()
			redisStatus = DepStatus{Status: "connected", PingMs: &ms}
			startMs = readTraffic(ctx, rdb, &r.Traffic, startMs)
		} else {
			redisStatus.Status = "error"
		}
	}
	r.Dependencies["redis"] = redisStatus

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := (time.Now().UnixMilli() - startMs) / 1000
	if uptime < 0 {
		uptime = 0
	}
	r.Runtime = RuntimeInfo{
		UptimeSeconds: uptime,
		HeapMB:        int(m.HeapInuse / 1024 / 1024),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}

	r.Signing = SigningInfo{Status: "unknown", Backlog: map[string]int64{}}
	if backlog != nil && dbStatus.Status == "connected" {
		if counts, err := backlog(ctx); err == nil {
			r.Signing = SigningInfo{Status: "ok", Backlog: counts}
			if counts["dead"] > 0 {
				r.Signing.Status = "dead_tasks"
			}
		} else {
			r.Signing.Status = "error"
		}
	}

	r.Status = "issue"
	if dbStatus.Status == "connected" && redisStatus.Status == "connected" && r.Signing.Backlog["dead"] == 0 {
		r.Status = "ok"
	}
	return r
}

func readTraffic(ctx context.Context, rdb *redis.Client, t *TrafficInfo, startMs int64) int64 {
	total, _ := rdb.Get(ctx, middleware.KeyReqTotal).Int()
	failed, _ := rdb.Get(ctx, middleware.KeyReqErrors).Int()
	timeSum, _ := rdb.Get(ctx, middleware.KeyResTime).Float64()
	count, _ := rdb.Get(ctx, middleware.KeyResCount).Int()

	if s, err := rdb.Get(ctx, middleware.KeyStartTime).Result(); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			startMs = v
		}
	} else {
		rdb.Set(ctx, middleware.KeyStartTime, startMs, 0)
	}

	t.TotalRequests = total
	t.FailedCount = failed
	t.SuccessCount = total - failed
	if total > 0 {
		t.SuccessRate = strconv.FormatFloat(float64(t.SuccessCount)/float64(total)*100, 'f', 1, 64)
	}
	if count > 0 {
		t.AvgResponseTime = strconv.FormatFloat(timeSum/float64(count), 'f', 2, 64)
	}
	if s, err := rdb.Get(ctx, middleware.KeyLastReq).Result(); err == nil {
		var last map[string]interface{}
		_ = json.Unmarshal([]byte(s), &last)
		t.LastRequest = last
	}
	if hits, err := rdb.HGetAll(ctx, middleware.KeyWebhookHit).Result(); err == nil {
		for k, v := range hits {
			n, _ := strconv.ParseInt(v, 10, 64)
			t.Webhooks[k] = n
		}
	}
	return startMs
}
