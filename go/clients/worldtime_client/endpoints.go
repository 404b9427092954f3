package worldtime_client

const (
	// Base URL
	BaseURL = "https://worldtimeapi.org"

	// API Endpoints
	UTCEndpoint = "/api/timezone/Etc/UTC"

	// Headers
	AcceptHeader    = "Accept"
	JsonContentType = "application/json"
	DateHeader      = "Date"
)
