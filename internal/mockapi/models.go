package mockapi

import "time"

type Hospital struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	BedsAvailable int       `json:"bedsAvailable"`
	ICUCapacity   int       `json:"icuCapacity"`
	Status        string    `json:"status"`
	Latitude      string    `json:"latitude"`
	Longitude     string    `json:"longitude"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

type SurgeData struct {
	ID                   string    `json:"id"`
	HospitalID           *string   `json:"hospitalId"`
	PredictionPercentage int       `json:"predictionPercentage"`
	PatientInflow        int       `json:"patientInflow"`
	AIConfidence         int       `json:"aiConfidence"`
	Timestamp            time.Time `json:"timestamp"`
}

type HealthAdvisory struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Location  *string   `json:"location"`
	IsActive  int       `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type AIPrediction struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Prediction map[string]any `json:"prediction"`
	Confidence int            `json:"confidence"`
	AlertLevel string         `json:"alertLevel"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Request bodies. Pointers mark fields that may be zero but must be present.

type hospitalInput struct {
	Name          string `json:"name" validate:"required"`
	Location      string `json:"location" validate:"required"`
	BedsAvailable int    `json:"bedsAvailable" validate:"gte=0"`
	ICUCapacity   int    `json:"icuCapacity" validate:"gte=0"`
	Status        string `json:"status" validate:"omitempty,oneof=good moderate critical"`
	Latitude      string `json:"latitude" validate:"required,latitude"`
	Longitude     string `json:"longitude" validate:"required,longitude"`
}

type hospitalPatch struct {
	Name          *string `json:"name" validate:"omitempty,min=1"`
	Location      *string `json:"location" validate:"omitempty,min=1"`
	BedsAvailable *int    `json:"bedsAvailable" validate:"omitempty,gte=0"`
	ICUCapacity   *int    `json:"icuCapacity" validate:"omitempty,gte=0"`
	Status        *string `json:"status" validate:"omitempty,oneof=good moderate critical"`
	Latitude      *string `json:"latitude" validate:"omitempty,latitude"`
	Longitude     *string `json:"longitude" validate:"omitempty,longitude"`
}

type surgeDataInput struct {
	HospitalID           *string `json:"hospitalId"`
	PredictionPercentage *int    `json:"predictionPercentage" validate:"required"`
	PatientInflow        *int    `json:"patientInflow" validate:"required,gte=0"`
	AIConfidence         *int    `json:"aiConfidence" validate:"required,gte=0,lte=100"`
}

type advisoryInput struct {
	Type     string  `json:"type" validate:"required,oneof=aqi temperature medical"`
	Message  string  `json:"message" validate:"required"`
	Severity string  `json:"severity" validate:"required,oneof=low medium high critical"`
	Location *string `json:"location"`
	IsActive *int    `json:"isActive" validate:"omitempty,oneof=0 1"`
}

type predictionInput struct {
	Type       string         `json:"type" validate:"required,oneof=surge staffing supply"`
	Prediction map[string]any `json:"prediction" validate:"required"`
	Confidence *int           `json:"confidence" validate:"required,gte=0,lte=100"`
	AlertLevel string         `json:"alertLevel" validate:"required"`
}

type scenarioInput struct {
	Scenario string `json:"scenario"`
}

// DashboardStats is the payload of dashboard-stats.
type DashboardStats struct {
	NextSurge         string        `json:"nextSurge"`
	CurrentAQI        int           `json:"currentAqi"`
	PreparednessScore int           `json:"preparednessScore"`
	PatientInflow     PatientInflow `json:"patientInflow"`
	CityOverview      CityOverview  `json:"cityOverview"`
}

type PatientInflow struct {
	Current    int `json:"current"`
	Emergency  int `json:"emergency"`
	ICU        int `json:"icu"`
	General    int `json:"general"`
	Outpatient int `json:"outpatient"`
}

type CityOverview struct {
	TotalHospitals int    `json:"totalHospitals"`
	AvailableBeds  int    `json:"availableBeds"`
	ICUCapacity    int    `json:"icuCapacity"`
	AlertLevel     string `json:"alertLevel"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
