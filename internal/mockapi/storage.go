package mockapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Storage is the in-memory dataset behind the mock API. Listings keep
// insertion order.
type Storage struct {
	mu  sync.RWMutex
	now func() time.Time

	hospitals   map[string]Hospital
	hospitalIDs []string
	surge       []SurgeData
	advisories  []HealthAdvisory
	predictions []AIPrediction
}

// NewStorage returns a storage seeded with the sample Mumbai dataset.
func NewStorage(now func() time.Time) *Storage {
	if now == nil {
		now = time.Now
	}
	s := &Storage{
		now:       now,
		hospitals: make(map[string]Hospital),
	}
	s.seed()
	return s
}

func (s *Storage) seed() {
	t := s.now()
	for _, h := range []Hospital{
		{ID: "1", Name: "Kokilaben Dhirubhai Ambani Hospital", Location: "Andheri West", BedsAvailable: 23, ICUCapacity: 15, Status: "good", Latitude: "19.1317", Longitude: "72.8267"},
		{ID: "2", Name: "Hinduja Hospital", Location: "Mahim", BedsAvailable: 7, ICUCapacity: 8, Status: "moderate", Latitude: "19.0401", Longitude: "72.8397"},
		{ID: "3", Name: "Breach Candy Hospital", Location: "Breach Candy", BedsAvailable: 31, ICUCapacity: 20, Status: "good", Latitude: "18.9735", Longitude: "72.8112"},
		{ID: "4", Name: "Jupiter Hospital", Location: "Thane", BedsAvailable: 2, ICUCapacity: 3, Status: "critical", Latitude: "19.2183", Longitude: "72.9781"},
	} {
		h.LastUpdated = t
		s.hospitals[h.ID] = h
		s.hospitalIDs = append(s.hospitalIDs, h.ID)
	}

	andheri, mumbai := "Andheri", "Mumbai"
	s.advisories = []HealthAdvisory{
		{ID: "1", Type: "aqi", Severity: "high", Location: &andheri, IsActive: 1, CreatedAt: t,
			Message: "High AQI in Andheri - Current AQI: 312. Avoid outdoor activities. Use N95 masks if necessary."},
		{ID: "2", Type: "temperature", Severity: "medium", Location: &mumbai, IsActive: 1, CreatedAt: t,
			Message: "Heat Wave Advisory - Temperature expected to reach 42°C. Stay hydrated and avoid sun exposure 11 AM - 4 PM."},
		{ID: "3", Type: "medical", Severity: "medium", Location: &mumbai, IsActive: 1, CreatedAt: t,
			Message: "Asthma patients: Ensure inhaler availability during current air quality conditions."},
	}

	s.predictions = []AIPrediction{
		{ID: "1", Type: "surge", Confidence: 89, AlertLevel: "medium", CreatedAt: t,
			Prediction: map[string]any{"increase": "30%", "timeframe": "tomorrow", "condition": "asthma cases"}},
		{ID: "2", Type: "staffing", Confidence: 85, AlertLevel: "medium", CreatedAt: t,
			Prediction: map[string]any{"needed": "4 ER doctors", "timeframe": "weekend surge"}},
		{ID: "3", Type: "supply", Confidence: 92, AlertLevel: "high", CreatedAt: t,
			Prediction: map[string]any{"item": "oxygen cylinders", "quantity": "20", "urgency": "low supply"}},
	}
}

func (s *Storage) Hospitals() []Hospital {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Hospital, 0, len(s.hospitalIDs))
	for _, id := range s.hospitalIDs {
		out = append(out, s.hospitals[id])
	}
	return out
}

func (s *Storage) Hospital(id string) (Hospital, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[id]
	return h, ok
}

func (s *Storage) CreateHospital(in hospitalInput) Hospital {
	h := Hospital{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Location:      in.Location,
		BedsAvailable: in.BedsAvailable,
		ICUCapacity:   in.ICUCapacity,
		Status:        in.Status,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		LastUpdated:   s.now(),
	}
	if h.Status == "" {
		h.Status = "good"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hospitals[h.ID] = h
	s.hospitalIDs = append(s.hospitalIDs, h.ID)
	return h
}

// UpdateHospital applies the set fields of p. It reports false when id is
// unknown.
func (s *Storage) UpdateHospital(id string, p hospitalPatch) (Hospital, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hospitals[id]
	if !ok {
		return Hospital{}, false
	}
	if p.Name != nil {
		h.Name = *p.Name
	}
	if p.Location != nil {
		h.Location = *p.Location
	}
	if p.BedsAvailable != nil {
		h.BedsAvailable = *p.BedsAvailable
	}
	if p.ICUCapacity != nil {
		h.ICUCapacity = *p.ICUCapacity
	}
	if p.Status != nil {
		h.Status = *p.Status
	}
	if p.Latitude != nil {
		h.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		h.Longitude = *p.Longitude
	}
	h.LastUpdated = s.now()
	s.hospitals[id] = h
	return h, true
}

func (s *Storage) SurgeData(hospitalID string) []SurgeData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SurgeData, 0, len(s.surge))
	for _, d := range s.surge {
		if hospitalID == "" || (d.HospitalID != nil && *d.HospitalID == hospitalID) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Storage) CreateSurgeData(in surgeDataInput) SurgeData {
	d := SurgeData{
		ID:                   uuid.NewString(),
		HospitalID:           in.HospitalID,
		PredictionPercentage: *in.PredictionPercentage,
		PatientInflow:        *in.PatientInflow,
		AIConfidence:         *in.AIConfidence,
		Timestamp:            s.now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surge = append(s.surge, d)
	return d
}

// ActiveAdvisories returns advisories with IsActive set.
func (s *Storage) ActiveAdvisories() []HealthAdvisory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HealthAdvisory, 0, len(s.advisories))
	for _, a := range s.advisories {
		if a.IsActive == 1 {
			out = append(out, a)
		}
	}
	return out
}

func (s *Storage) CreateAdvisory(in advisoryInput) HealthAdvisory {
	a := HealthAdvisory{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Message:   in.Message,
		Severity:  in.Severity,
		Location:  in.Location,
		IsActive:  1,
		CreatedAt: s.now(),
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advisories = append(s.advisories, a)
	return a
}

func (s *Storage) Predictions() []AIPrediction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AIPrediction(nil), s.predictions...)
}

func (s *Storage) CreatePrediction(in predictionInput) AIPrediction {
	p := AIPrediction{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Prediction: in.Prediction,
		Confidence: *in.Confidence,
		AlertLevel: in.AlertLevel,
		CreatedAt:  s.now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, p)
	return p
}
