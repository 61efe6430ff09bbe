package mockapi

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"
)

type random interface {
	IntN(n int) int
	Float64() float64
}

// lockedRand serializes a *rand.Rand, which is not safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func dashboardStats(hospitals []Hospital) DashboardStats {
	var beds, icu int
	for _, h := range hospitals {
		beds += h.BedsAvailable
		icu += h.ICUCapacity
	}
	icuPct := 0
	if n := len(hospitals); n > 0 {
		icuPct = int(math.Round(float64(icu) / float64(n) * 100 / 20))
	}
	return DashboardStats{
		NextSurge:         "18% Rise",
		CurrentAQI:        284,
		PreparednessScore: 78,
		PatientInflow: PatientInflow{
			Current:    47,
			Emergency:  12,
			ICU:        8,
			General:    19,
			Outpatient: 8,
		},
		CityOverview: CityOverview{
			TotalHospitals: len(hospitals),
			AvailableBeds:  beds,
			ICUCapacity:    icuPct,
			AlertLevel:     "Medium",
		},
	}
}

type forecastDay struct {
	Day        string `json:"day"`
	Date       string `json:"date"`
	Predicted  int    `json:"predicted"`
	Confidence int    `json:"confidence"`
	UpperBound int    `json:"upperBound"`
	LowerBound int    `json:"lowerBound"`
	RiskLevel  string `json:"riskLevel"`
}

func surgeForecast(r random, now time.Time) []forecastDay {
	out := make([]forecastDay, 7)
	for i := range out {
		d := now.AddDate(0, 0, i)
		risk := "high"
		switch {
		case i < 2:
			risk = "low"
		case i < 5:
			risk = "medium"
		}
		out[i] = forecastDay{
			Day:        d.Format("Mon"),
			Date:       d.Format(time.DateOnly),
			Predicted:  r.IntN(50) + 40 + i*3,
			Confidence: r.IntN(20) + 75,
			UpperBound: r.IntN(20) + 80 + i*4,
			LowerBound: r.IntN(15) + 30 + i*2,
			RiskLevel:  risk,
		}
	}
	return out
}

type leaderboardEntry struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Score               int     `json:"score"`
	Efficiency          int     `json:"efficiency"`
	PatientSatisfaction int     `json:"patientSatisfaction"`
	ResponseTime        int     `json:"responseTime"`
	Rank                int     `json:"rank"`
	Trend               string  `json:"trend"`
	Badge               *string `json:"badge"`
}

var badges = []string{"gold", "silver", "bronze"}

// hospitalLeaderboard scores hospitals randomly. Rank and badge follow
// storage order, the list is sorted by score.
func hospitalLeaderboard(r random, hospitals []Hospital) []leaderboardEntry {
	out := make([]leaderboardEntry, len(hospitals))
	for i, h := range hospitals {
		e := leaderboardEntry{
			ID:                  h.ID,
			Name:                h.Name,
			Score:               r.IntN(40) + 60,
			Efficiency:          r.IntN(30) + 70,
			PatientSatisfaction: r.IntN(25) + 75,
			ResponseTime:        r.IntN(10) + 8,
			Rank:                i + 1,
			Trend:               "down",
		}
		if r.Float64() > 0.5 {
			e.Trend = "up"
		}
		if i < len(badges) {
			e.Badge = &badges[i]
		}
		out[i] = e
	}
	slices.SortStableFunc(out, func(a, b leaderboardEntry) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

func resourceOptimization() map[string]any {
	return map[string]any{
		"staffing": []map[string]any{
			{"type": "shortage", "department": "Emergency", "current": 12, "recommended": 16, "urgency": "high",
				"impact": "Patient wait times reduced by 35%", "action": "Transfer 4 nurses from General Ward"},
			{"type": "surplus", "department": "General Ward", "current": 24, "recommended": 20, "urgency": "medium",
				"impact": "Optimize resource allocation", "action": "Redeploy 4 nurses to Emergency"},
		},
		"equipment": []map[string]any{
			{"item": "Ventilators", "current": 8, "recommended": 12, "urgency": "critical",
				"reason": "Surge prediction indicates 40% increase", "supplier": "MediEquip Mumbai", "eta": "4 hours"},
			{"item": "Oxygen Cylinders", "current": 45, "recommended": 65, "urgency": "high",
				"reason": "AQI spike affecting respiratory cases", "supplier": "OxyGen Solutions", "eta": "2 hours"},
		},
		"beds": []map[string]any{
			{"type": "ICU", "current": 85, "recommended": 95, "urgency": "medium",
				"action": "Convert 10 general beds to ICU configuration"},
		},
	}
}

type emergencyAlert struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Hospital   string    `json:"hospital"`
	Timestamp  time.Time `json:"timestamp"`
	SoundAlert bool      `json:"soundAlert"`
	Color      string    `json:"color"`
}

func emergencyAlerts(now time.Time) []emergencyAlert {
	return []emergencyAlert{
		{ID: "surge-001", Type: "surge", Level: "critical", Hospital: "KEM Hospital", Timestamp: now, SoundAlert: true, Color: "red",
			Message: "Mass casualty event detected - 15+ ambulances incoming"},
		{ID: "supply-002", Type: "supply", Level: "high", Hospital: "Hinduja Hospital", Timestamp: now.Add(-5 * time.Minute), Color: "orange",
			Message: "Oxygen supply critically low - 2 hours remaining"},
		{ID: "staff-003", Type: "staffing", Level: "medium", Hospital: "Tata Memorial", Timestamp: now.Add(-10 * time.Minute), Color: "yellow",
			Message: "Emergency department understaffed - need 3 doctors"},
	}
}

type heatPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Intensity float64 `json:"intensity"`
	Radius    float64 `json:"radius"`
	Type      string  `json:"type,omitempty"`
}

func mapHeatmap() map[string][]heatPoint {
	return map[string][]heatPoint{
		"patientInflow": {
			{Lat: 19.0896, Lng: 72.8656, Intensity: 0.8, Radius: 0.02},
			{Lat: 19.0176, Lng: 72.8562, Intensity: 0.6, Radius: 0.015},
			{Lat: 19.0761, Lng: 72.8775, Intensity: 0.9, Radius: 0.025},
			{Lat: 19.1136, Lng: 72.8697, Intensity: 0.4, Radius: 0.01},
			{Lat: 19.0330, Lng: 72.8697, Intensity: 0.7, Radius: 0.018},
		},
		"pollution": {
			{Lat: 19.0728, Lng: 72.8826, Intensity: 0.9, Radius: 0.03},
			{Lat: 19.0896, Lng: 72.8656, Intensity: 0.7, Radius: 0.025},
			{Lat: 19.0176, Lng: 72.8562, Intensity: 0.5, Radius: 0.02},
			{Lat: 19.1136, Lng: 72.8697, Intensity: 0.8, Radius: 0.022},
		},
		"outbreaks": {
			{Lat: 19.0896, Lng: 72.8656, Intensity: 0.6, Radius: 0.015, Type: "respiratory"},
			{Lat: 19.0761, Lng: 72.8775, Intensity: 0.4, Radius: 0.012, Type: "gastrointestinal"},
			{Lat: 19.0330, Lng: 72.8697, Intensity: 0.3, Radius: 0.008, Type: "fever"},
		},
	}
}

type surgeZone struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Coordinates     []LatLng `json:"coordinates"`
	RiskLevel       string   `json:"riskLevel"`
	SurgePrediction string   `json:"surgePrediction"`
	Timeframe       string   `json:"timeframe"`
	Confidence      int      `json:"confidence"`
	Triggers        []string `json:"triggers"`
}

func surgeZones() []surgeZone {
	return []surgeZone{
		{
			ID: "zone-1", Name: "Bandra East", RiskLevel: "high", SurgePrediction: "65% surge risk", Timeframe: "24 hrs", Confidence: 89,
			Coordinates: []LatLng{{19.0896, 72.8656}, {19.0920, 72.8680}, {19.0940, 72.8640}, {19.0916, 72.8620}},
			Triggers:    []string{"Festival crowd", "AQI spike", "Traffic accidents"},
		},
		{
			ID: "zone-2", Name: "Andheri West", RiskLevel: "medium", SurgePrediction: "35% surge risk", Timeframe: "48 hrs", Confidence: 76,
			Coordinates: []LatLng{{19.0761, 72.8775}, {19.0780, 72.8800}, {19.0800, 72.8750}, {19.0781, 72.8730}},
			Triggers:    []string{"Pollution levels", "Weekend events"},
		},
		{
			ID: "zone-3", Name: "Worli-Dadar", RiskLevel: "low", SurgePrediction: "15% surge risk", Timeframe: "72 hrs", Confidence: 82,
			Coordinates: []LatLng{{19.0176, 72.8562}, {19.0200, 72.8580}, {19.0220, 72.8540}, {19.0196, 72.8520}},
			Triggers:    []string{"Seasonal patterns"},
		},
	}
}

type flowEnd struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type hospitalFlow struct {
	From         flowEnd `json:"from"`
	To           flowEnd `json:"to"`
	PatientCount int     `json:"patientCount"`
	Urgency      string  `json:"urgency"`
	Type         string  `json:"type"`
	ETA          string  `json:"eta"`
}

func hospitalFlows() []hospitalFlow {
	jupiter := flowEnd{ID: "4", Name: "Jupiter Hospital", Lat: 19.0456, Lng: 72.8735}
	kokilaben := flowEnd{ID: "1", Name: "Kokilaben Hospital", Lat: 19.0728, Lng: 72.8826}
	hinduja := flowEnd{ID: "2", Name: "Hinduja Hospital", Lat: 19.0330, Lng: 72.8697}
	breachCandy := flowEnd{ID: "3", Name: "Breach Candy Hospital", Lat: 19.0176, Lng: 72.8562}
	return []hospitalFlow{
		{From: jupiter, To: kokilaben, PatientCount: 8, Urgency: "high", Type: "overflow_transfer", ETA: "15 min"},
		{From: hinduja, To: breachCandy, PatientCount: 3, Urgency: "medium", Type: "specialist_referral", ETA: "22 min"},
		{From: kokilaben, To: jupiter, PatientCount: 5, Urgency: "low", Type: "load_balancing", ETA: "18 min"},
	}
}

type ambulance struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Priority         string   `json:"priority"`
	CurrentPosition  LatLng   `json:"currentPosition"`
	Route            []LatLng `json:"route"`
	Destination      LatLng   `json:"destination"`
	ETA              int      `json:"eta"`
	PatientCondition *string  `json:"patientCondition"`
}

var ambulanceRoutes = [][2]LatLng{
	{{19.0896, 72.8656}, {19.0728, 72.8826}},
	{{19.0330, 72.8697}, {19.0176, 72.8562}},
	{{19.0761, 72.8775}, {19.0456, 72.8735}},
	{{19.1136, 72.8697}, {19.0896, 72.8656}},
}

// ambulanceTracking places twelve ambulances at random points along fixed
// routes, so every call differs.
func ambulanceTracking(r random) []ambulance {
	critical, stable := "critical", "stable"
	out := make([]ambulance, 12)
	for i := range out {
		route := ambulanceRoutes[i%len(ambulanceRoutes)]
		progress := r.Float64()

		a := ambulance{
			ID:       "amb-" + strconv.Itoa(i+1),
			Status:   "available",
			Priority: "medium",
			CurrentPosition: LatLng{
				Lat: route[0].Lat + (route[1].Lat-route[0].Lat)*progress,
				Lng: route[0].Lng + (route[1].Lng-route[0].Lng)*progress,
			},
			Route:       []LatLng{route[0], route[1]},
			Destination: route[1],
			ETA:         r.IntN(20) + 5,
		}
		switch {
		case i < 4:
			a.Status, a.PatientCondition = "emergency", &critical
		case i < 8:
			a.Status, a.PatientCondition = "transfer", &stable
		}
		switch {
		case i < 2:
			a.Priority = "critical"
		case i < 6:
			a.Priority = "high"
		}
		out[i] = a
	}
	return out
}

func hospitalSimulation(r random, id string) map[string]any {
	return map[string]any{
		"id": id,
		"realTimeData": map[string]any{
			"bedUsage": map[string]any{
				"total":     150,
				"occupied":  r.IntN(50) + 80,
				"available": r.IntN(30) + 20,
				"reserved":  r.IntN(15) + 5,
			},
			"icuStatus": map[string]any{
				"total":    25,
				"occupied": r.IntN(10) + 15,
				"ventilators": map[string]any{
					"total":     20,
					"inUse":     r.IntN(8) + 10,
					"available": r.IntN(5) + 2,
				},
			},
			"staffWorkload": map[string]any{
				"doctors":     map[string]any{"current": 12, "required": 15, "workload": 85},
				"nurses":      map[string]any{"current": 45, "required": 50, "workload": 92},
				"technicians": map[string]any{"current": 20, "required": 18, "workload": 70},
			},
			"emergencyQueue": map[string]any{
				"waiting":     r.IntN(15) + 5,
				"avgWaitTime": r.IntN(30) + 15,
				"priority": map[string]any{
					"critical": r.IntN(3) + 1,
					"high":     r.IntN(5) + 2,
					"medium":   r.IntN(8) + 3,
				},
			},
		},
		"predictions": map[string]any{
			"nextHourInflow":   r.IntN(20) + 15,
			"surgeProbability": r.IntN(40) + 30,
			"resourceNeeds": map[string]any{
				"additionalBeds": r.IntN(10) + 2,
				"extraStaff":     r.IntN(5) + 1,
				"supplies":       []string{"Oxygen", "IV fluids", "Ventilator circuits"},
			},
		},
	}
}

type scenarioResult struct {
	Increase  string            `json:"increase"`
	Timeframe string            `json:"timeframe"`
	Staff     map[string]string `json:"staff"`
	Supplies  map[string]string `json:"supplies"`
}

var scenarios = map[string]scenarioResult{
	"festival": {
		Increase: "+65%", Timeframe: "Peak in 4-8 hours",
		Staff:    map[string]string{"doctors": "+8", "nurses": "+16", "techs": "+6"},
		Supplies: map[string]string{"oxygen": "40", "iv": "200", "vents": "5"},
	},
	"pollution": {
		Increase: "+45%", Timeframe: "Peak in 6-12 hours",
		Staff:    map[string]string{"doctors": "+6", "nurses": "+12", "techs": "+4"},
		Supplies: map[string]string{"oxygen": "25", "iv": "150", "vents": "3"},
	},
	"epidemic": {
		Increase: "+120%", Timeframe: "Peak in 2-4 days",
		Staff:    map[string]string{"doctors": "+15", "nurses": "+30", "techs": "+10"},
		Supplies: map[string]string{"oxygen": "80", "iv": "400", "vents": "12"},
	},
}
