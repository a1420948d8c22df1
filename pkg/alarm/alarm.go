// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package alarm models the out-of-band, rate-limited alarm events the
// original emits via LogtailAlarm::SendAlarm (e.g. DISCARD_DATA_ALARM,
// SEND_QUOTA_EXCEED_ALARM). Alarms are always also logged at error level;
// this package only adds the rate limiting and the alarm "type" tag so a
// downstream alerting pipeline can aggregate on it.
package alarm

import (
	"sync"
	"time"

	"github.com/alibaba/loongcollector-go/pkg/logging"
)

// Type enumerates the alarm categories raised by this module.
type Type string

const (
	DiscardData        Type = "DISCARD_DATA_ALARM"
	DiscardSecondary    Type = "DISCARD_SECONDARY_ALARM"
	SendQuotaExceed     Type = "SEND_QUOTA_EXCEED_ALARM"
	SendDataFail        Type = "SEND_DATA_FAIL_ALARM"
	SecondaryReadWrite  Type = "SECONDARY_READ_WRITE_ALARM"
	EncryptDecryptFail  Type = "ENCRYPT_DECRYPT_FAIL_ALARM"
	LogGroupParseFail   Type = "LOG_GROUP_PARSE_FAIL_ALARM"
	ConfigAlarm         Type = "CATEGORY_CONFIG_ALARM"
	ShutdownTimeout     Type = "SHUTDOWN_TIMEOUT_ALARM"
)

// minInterval bounds how often the same alarm type+project combination is
// emitted, so a persistent failure doesn't spam the log/metrics pipeline.
const minInterval = 30 * time.Second

// Manager rate-limits and logs alarms. A nil *Manager is valid and
// silently discards every alarm (useful in tests).
type Manager struct {
	log logging.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewManager builds an alarm Manager.
func NewManager(log logging.Logger) *Manager {
	return &Manager{
		log:  logging.New(log, "alarm"),
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Send raises an alarm. project/logstore/region are context tags, any of
// which may be empty. Repeated alarms of the same (type, project, logstore)
// within minInterval are dropped without being logged or counted.
func (m *Manager) Send(t Type, message string, project, logstore, region string) {
	if m == nil {
		return
	}
	key := string(t) + "|" + project + "|" + logstore
	m.mu.Lock()
	last, seen := m.last[key]
	now := m.now()
	fire := !seen || now.Sub(last) >= minInterval
	if fire {
		m.last[key] = now
	}
	m.mu.Unlock()

	if !fire {
		return
	}
	m.log.WithFields(map[string]interface{}{
		"alarm_type": t,
		"project":    project,
		"logstore":   logstore,
		"region":     region,
	}).Error(message)
}
