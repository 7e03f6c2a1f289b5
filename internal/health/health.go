// Package health 는 liveness/readiness 상태를 수집한다.
package health

import (
	"context"
	"time"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

var startTime = time.Now()

const probeTimeout = 2 * time.Second

// Component 는 상태 구성 요소다.
type Component struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail"`
}

// Response 는 상태 응답 본문이다.
type Response struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components"`
}

// Probe 는 readiness 검사 하나다. Check 가 오류를 반환하면 degraded 로 본다.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Collect 는 헬스 상태를 수집한다. deepChecks 가 false 면 probe 를 실행하지 않는다.
func Collect(ctx context.Context, cfg *config.Config, deepChecks bool, probes ...Probe) Response {
	components := make(map[string]Component, len(probes)+2)
	components["app"] = buildAppStatus()
	components["gemini"] = buildGeminiStatus(cfg)

	if deepChecks {
		if ctx == nil {
			ctx = context.Background()
		}
		for _, probe := range probes {
			components[probe.Name] = runProbe(ctx, probe)
		}
	}

	overall := "ok"
	for _, component := range components {
		if component.Status != "ok" {
			overall = "degraded"
			break
		}
	}

	return Response{
		Status:     overall,
		Components: components,
	}
}

func runProbe(ctx context.Context, probe Probe) Component {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()

	started := time.Now()
	err := probe.Check(checkCtx)
	detail := map[string]any{
		"latency_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		detail["error"] = err.Error()
		return Component{Status: "degraded", Detail: detail}
	}
	return Component{Status: "ok", Detail: detail}
}

func buildAppStatus() Component {
	return Component{
		Status: "ok",
		Detail: map[string]any{
			"uptime_seconds": int(time.Since(startTime).Seconds()),
		},
	}
}

func buildGeminiStatus(cfg *config.Config) Component {
	apiKeyPresent := false
	defaultModel := ""
	modifyModel := ""
	timeoutSeconds := 0

	if cfg != nil {
		apiKeyPresent = cfg.Gemini.PrimaryKey() != ""
		defaultModel = cfg.Gemini.ModelFor(false)
		modifyModel = cfg.Gemini.ModelFor(true)
		timeoutSeconds = cfg.Gemini.TimeoutSeconds
	}
	status := "ok"
	if !apiKeyPresent {
		status = "degraded"
	}

	return Component{
		Status: status,
		Detail: map[string]any{
			"api_key_present": apiKeyPresent,
			"default_model":   defaultModel,
			"modify_model":    modifyModel,
			"timeout_seconds": timeoutSeconds,
		},
	}
}
