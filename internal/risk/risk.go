package risk

// Risk Engine: чистая аддитивная функция без I/O. Каждый фактор
// срабатывает независимо; порядок не имеет значения.

// Factor names surfaced in assessments and audit metadata.
const (
	FactorNewDevice       = "NEW_DEVICE"
	FactorRecoveredDevice = "RECOVERED_DEVICE"
	FactorRecentRecovery  = "RECENT_RECOVERY"
	FactorIPChange        = "IP_CHANGE"
	FactorHighAmount      = "HIGH_AMOUNT"
	FactorSeedNotBackedUp = "SEED_NOT_BACKED_UP"
)

// Thresholds configure the engine. Zero values are never sensible; use
// Defaults as the base and override from config.
type Thresholds struct {
	StepUpScore   int   // score at which a 2FA step-up is required
	NewDeviceDays int   // devices younger than this are NEW_DEVICE
	RecoveryOps   int   // ops after recovery below this are RECENT_RECOVERY
	HighAmount    int64 // operation amounts above this are HIGH_AMOUNT
}

func Defaults() Thresholds {
	return Thresholds{
		StepUpScore:   3,
		NewDeviceDays: 7,
		RecoveryOps:   5,
		HighAmount:    10000,
	}
}

// Context is everything the engine looks at. Callers assemble it from the
// device registry and security settings; the engine itself does no I/O.
type Context struct {
	DeviceAgeDays    int
	DeviceRecovered  bool
	OpsSinceRecovery int
	LastSeenIP       string // empty means no prior IP recorded
	RequestIP        string
	Amount           int64
	SeedBackedUp     bool
}

type Assessment struct {
	Score         int      `json:"score"`
	RequireStepUp bool     `json:"require_step_up"`
	Factors       []string `json:"factors"`
}

// Evaluate scores the request context. Factors are additive: adding any one
// true predicate never decreases the score.
func Evaluate(ctx Context, t Thresholds) Assessment {
	var a Assessment

	if ctx.DeviceAgeDays < t.NewDeviceDays {
		a.Score += 2
		a.Factors = append(a.Factors, FactorNewDevice)
	}

	if ctx.DeviceRecovered {
		a.Score += 2
		a.Factors = append(a.Factors, FactorRecoveredDevice)
		if ctx.OpsSinceRecovery < t.RecoveryOps {
			a.Score += 3
			a.Factors = append(a.Factors, FactorRecentRecovery)
		}
	}

	if ctx.LastSeenIP != "" && ctx.RequestIP != "" && ctx.LastSeenIP != ctx.RequestIP {
		a.Score++
		a.Factors = append(a.Factors, FactorIPChange)
	}

	if ctx.Amount > t.HighAmount {
		a.Score += 2
		a.Factors = append(a.Factors, FactorHighAmount)
	}

	if !ctx.SeedBackedUp {
		a.Score += 2
		a.Factors = append(a.Factors, FactorSeedNotBackedUp)
	}

	a.RequireStepUp = a.Score >= t.StepUpScore
	return a
}
