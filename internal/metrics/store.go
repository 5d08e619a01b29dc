package metrics

import "time"

// The methods below match the contentstore.Options hooks.

func (m *ServerMetrics) StoreWrite(op string) {
	m.storeWritesTotal.WithLabelValues(op).Inc()
	m.storeLastWriteTs.Set(float64(time.Now().Unix()))
}

func (m *ServerMetrics) StoreBackup(string) {
	m.storeBackupsTotal.Inc()
}

func (m *ServerMetrics) StorePruned(n int) {
	m.storePrunedTotal.Add(float64(n))
}

func (m *ServerMetrics) StoreRecovered() {
	m.storeRecoveriesTotal.Inc()
}

func (m *ServerMetrics) StoreMirrorFailed() {
	m.storeMirrorFailedTotal.Inc()
}

// Login results: "success", "invalid", "rate_limited", "bad_request".
func (m *ServerMetrics) IncLogin(result string) {
	m.loginsTotal.WithLabelValues(result).Inc()
}

// Token rejection reasons: "missing", "expired", "invalid".
func (m *ServerMetrics) IncTokenRejected(reason string) {
	m.tokenRejectedTotal.WithLabelValues(reason).Inc()
}
