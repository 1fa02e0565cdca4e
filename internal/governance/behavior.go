package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"
)

// BehaviorConfig tunes the abuse detectors.
type BehaviorConfig struct {
	Enabled             bool
	ScrapingWindow      int     // recent queries examined per (tenant, user)
	ScrapingSimilarity  float64 // repeated-hash fraction that flags scraping
	MassExportThreshold int     // retrieved documents per day that flag export
	AnomalyThreshold    float64 // aggregate score above which we alert
}

// DefaultBehaviorConfig returns the production detector settings.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		Enabled:             true,
		ScrapingWindow:      10,
		ScrapingSimilarity:  0.90,
		MassExportThreshold: 1000,
		AnomalyThreshold:    70.0,
	}
}

// Signal is a detector finding reported to the security audit trail.
type Signal struct {
	Kind     string // "query_scraping" or "mass_export"
	TenantID string
	UserID   string
	Score    float64
	Detail   map[string]interface{}
}

// Score contributions per detector. Either alone stays under the alert
// threshold; both together cross it.
const (
	scrapingScore   = 50.0
	massExportScore = 40.0
)

type userState struct {
	queryHashes []string // ring of the last ScrapingWindow query hashes
	docsDay     string   // YYYYMMDD the counter belongs to
	docsCount   int
	flagged     map[string]bool // detector kinds already reported today
}

// BehaviorMonitor tracks per-(tenant, user) activity and flags query
// scraping and mass-export patterns. All methods are safe for concurrent
// use.
type BehaviorMonitor struct {
	cfg BehaviorConfig

	mu    sync.Mutex
	users map[string]*userState

	now func() time.Time
}

// NewBehaviorMonitor creates a monitor with the given configuration.
func NewBehaviorMonitor(cfg BehaviorConfig) *BehaviorMonitor {
	return &BehaviorMonitor{
		cfg:   cfg,
		users: make(map[string]*userState),
		now:   time.Now,
	}
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:8])
}

// ObserveQuery records a query and the number of documents it retrieved,
// and returns any signals the activity raised. A nil slice means nothing
// suspicious.
func (m *BehaviorMonitor) ObserveQuery(tenantID, userID, query string, docsRetrieved int) []Signal {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "/" + userID
	st := m.users[key]
	if st == nil {
		st = &userState{flagged: make(map[string]bool)}
		m.users[key] = st
	}

	var signals []Signal

	// Scraping: fraction of the window occupied by the most repeated hash.
	h := hashQuery(query)
	st.queryHashes = append(st.queryHashes, h)
	if len(st.queryHashes) > m.cfg.ScrapingWindow {
		st.queryHashes = st.queryHashes[len(st.queryHashes)-m.cfg.ScrapingWindow:]
	}
	if len(st.queryHashes) == m.cfg.ScrapingWindow {
		counts := make(map[string]int, len(st.queryHashes))
		peak := 0
		for _, qh := range st.queryHashes {
			counts[qh]++
			if counts[qh] > peak {
				peak = counts[qh]
			}
		}
		frac := float64(peak) / float64(len(st.queryHashes))
		if frac >= m.cfg.ScrapingSimilarity && !st.flagged["query_scraping"] {
			st.flagged["query_scraping"] = true
			signals = append(signals, Signal{
				Kind:     "query_scraping",
				TenantID: tenantID,
				UserID:   userID,
				Score:    scrapingScore,
				Detail: map[string]interface{}{
					"repeated_fraction": frac,
					"window":            m.cfg.ScrapingWindow,
				},
			})
		}
	}

	// Mass export: daily retrieved-document counter.
	day := m.now().UTC().Format("20060102")
	if st.docsDay != day {
		st.docsDay = day
		st.docsCount = 0
		st.flagged = make(map[string]bool)
	}
	st.docsCount += docsRetrieved
	if st.docsCount >= m.cfg.MassExportThreshold && !st.flagged["mass_export"] {
		st.flagged["mass_export"] = true
		signals = append(signals, Signal{
			Kind:     "mass_export",
			TenantID: tenantID,
			UserID:   userID,
			Score:    massExportScore,
			Detail: map[string]interface{}{
				"documents_today": st.docsCount,
				"threshold":       m.cfg.MassExportThreshold,
			},
		})
	}

	for _, sig := range signals {
		log.Printf("[WARN] governance: behaviour signal kind=%s tenant=%s user=%s score=%.0f",
			sig.Kind, sig.TenantID, sig.UserID, sig.Score)
	}
	return signals
}

// AnomalyScore sums the scores of all detectors a user has tripped today.
func (m *BehaviorMonitor) AnomalyScore(tenantID, userID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[tenantID+"/"+userID]
	if st == nil {
		return 0
	}
	score := 0.0
	if st.flagged["query_scraping"] {
		score += scrapingScore
	}
	if st.flagged["mass_export"] {
		score += massExportScore
	}
	return score
}

// ShouldAlert reports whether the user's aggregate anomaly score crossed
// the alert threshold.
func (m *BehaviorMonitor) ShouldAlert(tenantID, userID string) bool {
	return m.AnomalyScore(tenantID, userID) > m.cfg.AnomalyThreshold
}
