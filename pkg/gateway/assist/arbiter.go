package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
)

// Proposal types with an assigned urgency rank. Lower wins. Types the
// generator invents that are missing here are dropped before selection.
const (
	ProposalEVCharge = "proposal_ev_charge"
	ProposalVideo    = "proposal_video"
)

var priorityTable = map[string]int{
	ProposalEVCharge: 1,
	ProposalVideo:    2,
}

const defaultLang = "ja"

// ArbiterConfig wires an Arbiter to its session. Emit delivers a payload to
// the client transport; PushInput injects a frame into the session's backend
// input queue.
type ArbiterConfig struct {
	Generator Generator
	Profiles  *Profiles
	Timeout   time.Duration
	Logger    *slog.Logger
	Emit      func(ctx context.Context, payload []byte) error
	PushInput func(ctx context.Context, raw json.RawMessage) error
}

// Arbiter consumes one session's telemetry queue. Per vehicle status report
// it collects candidate proposals from the generator and delivers at most
// one: the recognized candidate with the lowest priority value.
type Arbiter struct {
	cfg    ArbiterConfig
	logger *slog.Logger

	// Updated only by login notices, read by telemetry handling. The run
	// loop is the only accessor, so no locking is needed.
	profile *Profile
	lang    string
}

func NewArbiter(cfg ArbiterConfig) *Arbiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	return &Arbiter{cfg: cfg, logger: cfg.Logger, lang: defaultLang}
}

// Run consumes the telemetry queue until the context is cancelled or the
// queue closes. Every failure is contained to the report that caused it.
func (a *Arbiter) Run(ctx context.Context, telemetry <-chan json.RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-telemetry:
			if !ok {
				return nil
			}
			a.handle(ctx, raw)
		}
	}
}

func (a *Arbiter) handle(ctx context.Context, raw json.RawMessage) {
	var envelope struct {
		Type     string `json:"type"`
		UserName string `json:"user_name"`
		Lang     string `json:"lang"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		a.logger.Warn("undecodable telemetry item", "error", err)
		return
	}
	switch envelope.Type {
	case "login_notice":
		a.applyLogin(envelope.UserName, envelope.Lang)
	case "vehicle_status":
		a.processVehicleStatus(ctx, raw)
	default:
		a.logger.Warn("unexpected telemetry item type", "type", envelope.Type)
	}
}

func (a *Arbiter) applyLogin(userName, lang string) {
	if lang != "" {
		a.lang = lang
	}
	if userName == "" {
		return
	}
	profile, ok := a.cfg.Profiles.Resolve(userName)
	if !ok {
		a.logger.Warn("no profile for user, keeping previous", "user_name", userName)
		return
	}
	a.profile = &profile
	a.logger.Info("user profile applied", "user_name", profile.UserName, "lang", a.lang)
}

func (a *Arbiter) processVehicleStatus(ctx context.Context, raw json.RawMessage) {
	enriched, err := EnrichVehicleStatus(raw, a.profile)
	if err != nil {
		a.logger.Warn("vehicle status not enrichable", "error", err)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	bundle, err := a.cfg.Generator.Generate(genCtx, enriched)
	cancel()
	if err != nil {
		// Timeouts and generator failures mean "no proposal this round".
		a.logger.Warn("suggestion generation failed", "error", err)
		return
	}

	winner, winnerType, ok := selectWinner(bundle)
	if !ok {
		a.logger.Debug("no recognized proposal in bundle", "keys", len(bundle))
		return
	}

	var flags struct {
		ReturnDirect bool `json:"return_direct"`
	}
	if err := json.Unmarshal(winner, &flags); err != nil {
		a.logger.Warn("unparseable winning proposal", "type", winnerType, "error", err)
		return
	}

	if flags.ReturnDirect {
		if err := a.cfg.Emit(ctx, winner); err != nil {
			a.logger.Warn("proposal not delivered to client", "type", winnerType, "error", err)
		}
	}

	narration, err := json.Marshal(realtime.NewTextItem("user", narrationRequest(winnerType, a.lang, winner)))
	if err != nil {
		a.logger.Error("narration request not serializable", "error", err)
		return
	}
	if err := a.cfg.PushInput(ctx, narration); err != nil {
		a.logger.Warn("narration request not queued", "type", winnerType, "error", err)
	}
}

// selectWinner filters the bundle to recognized proposal types and picks the
// one with the lowest priority value. Ties break lexicographically so the
// result never depends on map iteration order.
func selectWinner(bundle map[string]json.RawMessage) (json.RawMessage, string, bool) {
	winnerType := ""
	for typ := range bundle {
		if _, known := priorityTable[typ]; !known {
			continue
		}
		if winnerType == "" {
			winnerType = typ
			continue
		}
		if priorityTable[typ] < priorityTable[winnerType] ||
			(priorityTable[typ] == priorityTable[winnerType] && typ < winnerType) {
			winnerType = typ
		}
	}
	if winnerType == "" {
		return nil, "", false
	}
	return bundle[winnerType], winnerType, true
}

func narrationRequest(proposalType, lang string, payload json.RawMessage) string {
	var b strings.Builder
	switch proposalType {
	case ProposalEVCharge:
		b.WriteString("Please notify the user: charging the vehicle is recommended right now.\n")
	case ProposalVideo:
		b.WriteString("Please notify the user: there is a video suggestion for this trip.\n")
	default:
		b.WriteString("Please describe the following suggestion JSON to the user in one short sentence.\n")
	}
	fmt.Fprintf(&b, "Suggestion details: %s\n", payload)
	fmt.Fprintf(&b, "Please respond in the language specified by %s.", lang)
	return b.String()
}
