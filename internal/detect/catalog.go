// Package detect implements the baseline-and-deviation pipeline that turns a
// team's weekly metric series into classified signals: robust baseline
// statistics, sustained-deviation tracking, confidence blending, driver
// attribution, the privacy guardrail and severity classification.
package detect

import "fmt"

// DriverSpec names one sub-metric feeding a composite signal type.
type DriverSpec struct {
	Key   string
	Label string
}

// SignalType describes one detectable drift pattern: the primary metric it
// watches, the sub-metrics that explain it, and the narrative attached to an
// emitted signal.
type SignalType struct {
	Key                string
	Label              string
	MetricKey          string
	Drivers            []DriverSpec
	ConsequenceRising  string
	ConsequenceFalling string
	RecommendedActions []string
}

// Catalog lists every signal type the pipeline evaluates, in a stable order.
var Catalog = []SignalType{
	{
		Key:       "coordination-risk",
		Label:     "Coordination risk",
		MetricKey: "meeting_hours",
		Drivers: []DriverSpec{
			{Key: "meetings_count", Label: "Meetings held"},
			{Key: "back_to_back_ratio", Label: "Back-to-back meeting ratio"},
			{Key: "large_meeting_hours", Label: "Hours in 8+ person meetings"},
			{Key: "recurring_meeting_hours", Label: "Hours in recurring meetings"},
		},
		ConsequenceRising:  "Meeting load is %.0f%% above this team's recent norm; sustained coordination overhead usually crowds out delivery time within a few weeks.",
		ConsequenceFalling: "Meeting load is %.0f%% below this team's recent norm; a sudden drop can indicate disengagement from shared planning.",
		RecommendedActions: []string{
			"Audit recurring meetings for ones that can shrink or merge",
			"Introduce one meeting-free day per week",
			"Move status updates to async channels",
		},
	},
	{
		Key:       "after-hours-drift",
		Label:     "After-hours drift",
		MetricKey: "after_hours_minutes",
		Drivers: []DriverSpec{
			{Key: "evening_minutes", Label: "Evening activity"},
			{Key: "weekend_minutes", Label: "Weekend activity"},
			{Key: "late_night_minutes", Label: "Late-night activity"},
		},
		ConsequenceRising:  "After-hours activity is %.0f%% above this team's recent norm; sustained out-of-hours work is a leading indicator of burnout and attrition.",
		ConsequenceFalling: "After-hours activity is %.0f%% below this team's recent norm.",
		RecommendedActions: []string{
			"Check whether deadlines or on-call load changed recently",
			"Reinforce norms around out-of-hours messages",
			"Review sprint commitments against capacity",
		},
	},
	{
		Key:       "focus-erosion",
		Label:     "Focus erosion",
		MetricKey: "focus_hours",
		Drivers: []DriverSpec{
			{Key: "longest_focus_block", Label: "Longest uninterrupted block"},
			{Key: "calendar_fragmentation", Label: "Calendar fragmentation"},
			{Key: "context_switches", Label: "Context switches per day"},
		},
		ConsequenceRising:  "Available focus time is %.0f%% above this team's recent norm.",
		ConsequenceFalling: "Available focus time is %.0f%% below this team's recent norm; fragmented calendars erode deep work and slow delivery.",
		RecommendedActions: []string{
			"Block shared focus hours on the team calendar",
			"Batch interruptions into office hours",
			"Decline meetings without agendas",
		},
	},
	{
		Key:       "response-lag",
		Label:     "Response lag",
		MetricKey: "response_latency_minutes",
		Drivers: []DriverSpec{
			{Key: "chat_latency_minutes", Label: "Chat response latency"},
			{Key: "email_latency_minutes", Label: "Email response latency"},
			{Key: "mention_backlog", Label: "Unanswered mentions"},
		},
		ConsequenceRising:  "Response latency is %.0f%% above this team's recent norm; slowing responses often precede blocked dependencies for neighbouring teams.",
		ConsequenceFalling: "Response latency is %.0f%% below this team's recent norm.",
		RecommendedActions: []string{
			"Check for overload on the team's primary responders",
			"Rebalance triage rotation",
			"Clarify expected response windows with partner teams",
		},
	},
}

// LookupSignalType returns the catalog entry for key.
func LookupSignalType(key string) (SignalType, error) {
	for _, st := range Catalog {
		if st.Key == key {
			return st, nil
		}
	}
	return SignalType{}, fmt.Errorf("unknown signal type %q", key)
}

// Consequence renders the signal's consequence text for the given percent
// delta (signed fraction, e.g. 0.43 for +43%).
func (st SignalType) Consequence(deltaPct float64) string {
	pct := deltaPct * 100
	if pct < 0 {
		return fmt.Sprintf(st.ConsequenceFalling, -pct)
	}
	return fmt.Sprintf(st.ConsequenceRising, pct)
}
