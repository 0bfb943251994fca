package types

// Package types provides shared type definitions for AIGen.
// Contains core data structures used across the application.
import (
	"encoding/json"
	"time"
)

// Core Types

// ItemType identifies the kind of a history record
type ItemType string

const (
	ItemSearch ItemType = "search"
	ItemImage  ItemType = "image"
)

// Valid reports whether the item type is known
func (t ItemType) Valid() bool {
	return t == ItemSearch || t == ItemImage
}

// Method identifies which provider tier served a request
type Method string

const (
	MethodMCP      Method = "mcp"
	MethodFallback Method = "fallback"
)

// User represents a registered account
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"hashed_password,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// DefaultRole is assigned to newly registered users
const DefaultRole = "user"

// SearchResult is the canonical shape of one web search hit
type SearchResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Href  string `json:"href"`
}

// SearchPayload is stored as the data of a search history record
type SearchPayload struct {
	Results       []SearchResult `json:"results"`
	SearchMethod  Method         `json:"search_method"`
	QueryMetadata QueryMetadata  `json:"query_metadata"`
}

// QueryMetadata echoes the request limits next to the result count
type QueryMetadata struct {
	MaxResults   int `json:"max_results"`
	ResultsCount int `json:"results_count"`
}

// ImageResult is the canonical shape of a generated image
type ImageResult struct {
	Prompt           string                 `json:"prompt"`
	ImageURL         string                 `json:"image_url,omitempty"`
	ImageData        string                 `json:"image_data,omitempty"`
	GenerationMethod Method                 `json:"generation_method"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// ImageParams are the tunables of an image generation request
type ImageParams struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
}

// HistoryRecord is an immutable snapshot of a fulfilled request
type HistoryRecord struct {
	ID        int64           `json:"id"`
	ItemType  ItemType        `json:"item_type"`
	Query     string          `json:"query"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UserID    int64           `json:"user_id"`
}

// ListFilter narrows a history listing
type ListFilter struct {
	ItemType ItemType
	Keyword  string
}

// Request/Response Types

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse represents a registration response
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

// UserInfo is the public part of a user returned on login
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        UserInfo `json:"user"`
}

// SearchResponse represents a search response
type SearchResponse struct {
	ID           *int64         `json:"id"`
	Query        string         `json:"query"`
	Results      []SearchResult `json:"results"`
	SearchMethod Method         `json:"search_method"`
	TotalResults int            `json:"total_results"`
}

// ImageRequest represents an image generation request body
type ImageRequest struct {
	Prompt   string   `json:"prompt"`
	Width    *int     `json:"width,omitempty"`
	Height   *int     `json:"height,omitempty"`
	Steps    *int     `json:"steps,omitempty"`
	Guidance *float64 `json:"guidance,omitempty"`
}

// ImageResponse represents an image generation response
type ImageResponse struct {
	ID               *int64                 `json:"id"`
	Prompt           string                 `json:"prompt"`
	ImageURL         string                 `json:"image_url"`
	GenerationMethod Method                 `json:"generation_method"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// HistoryListResponse represents a dashboard listing
type HistoryListResponse struct {
	Items []*HistoryRecord `json:"items"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config Types

// Config represents the entire application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Auth          AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Fallback      FallbackConfig      `yaml:"fallback" mapstructure:"fallback"`
	History       HistoryConfig       `yaml:"history" mapstructure:"history"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Analytics     AnalyticsConfig     `yaml:"analytics" mapstructure:"analytics"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string   `yaml:"host" mapstructure:"host"`
	Port         int      `yaml:"port" mapstructure:"port"`
	ReadTimeout  string   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout string   `yaml:"write_timeout" mapstructure:"write_timeout"`
	BodyLimit    int      `yaml:"body_limit" mapstructure:"body_limit"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig represents token and password settings
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL   string `yaml:"token_ttl" mapstructure:"token_ttl"`
	BcryptCost int    `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// ProvidersConfig holds the primary MCP endpoints
type ProvidersConfig struct {
	Search MCPEndpointConfig `yaml:"search" mapstructure:"search"`
	Image  MCPEndpointConfig `yaml:"image" mapstructure:"image"`
}

// MCPEndpointConfig describes how to reach one remote MCP tool
type MCPEndpointConfig struct {
	Transport string            `yaml:"transport" mapstructure:"transport"` // "http" or "stdio"
	URL       string            `yaml:"url" mapstructure:"url"`
	Command   string            `yaml:"command" mapstructure:"command"`
	Args      []string          `yaml:"args" mapstructure:"args"`
	Env       map[string]string `yaml:"env" mapstructure:"env"`
	Tool      string            `yaml:"tool" mapstructure:"tool"`
	Timeout   string            `yaml:"timeout" mapstructure:"timeout"` // Default: "30s"
}

// FallbackConfig represents secondary provider settings
type FallbackConfig struct {
	DuckDuckGoURL   string `yaml:"duckduckgo_url" mapstructure:"duckduckgo_url"`
	PollinationsURL string `yaml:"pollinations_url" mapstructure:"pollinations_url"`
	Timeout         string `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// HistoryConfig represents best-effort persistence settings
type HistoryConfig struct {
	ConfirmTimeout string `yaml:"confirm_timeout" mapstructure:"confirm_timeout"`
	WriteTimeout   string `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// StorageConfig represents storage configuration
type StorageConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"` // "badger", "postgres" or "sqlite"
	Badger   BadgerConfig   `yaml:"badger" mapstructure:"badger"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
}

// BadgerConfig represents BadgerDB configuration
type BadgerConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig represents PostgreSQL configuration
type PostgresConfig struct {
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SQLiteConfig represents SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SearchConfig represents the history search index configuration
type SearchConfig struct {
	Provider    string            `yaml:"provider" mapstructure:"provider"` // "meilisearch" or "typesense"
	Typesense   TypesenseConfig   `yaml:"typesense" mapstructure:"typesense"`
	Meilisearch MeilisearchConfig `yaml:"meilisearch" mapstructure:"meilisearch"`
}

// TypesenseConfig represents Typesense search configuration
type TypesenseConfig struct {
	Enabled    bool     `yaml:"enabled" mapstructure:"enabled"`
	Nodes      []string `yaml:"nodes" mapstructure:"nodes"` // ["http://localhost:8108"]
	APIKey     string   `yaml:"api_key" mapstructure:"api_key"`
	Collection string   `yaml:"collection" mapstructure:"collection"` // Default: "history"
	NumTypos   int      `yaml:"num_typos" mapstructure:"num_typos"`   // Default: 2
	Timeout    string   `yaml:"timeout" mapstructure:"timeout"`       // Default: "5s"
}

// MeilisearchConfig represents Meilisearch search configuration
type MeilisearchConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Host      string `yaml:"host" mapstructure:"host"` // "http://localhost:7700"
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	IndexName string `yaml:"index_name" mapstructure:"index_name"` // Default: "history"
}

// AnalyticsConfig represents analytics configuration
type AnalyticsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ObservabilityConfig represents observability configuration
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" or "json"
}

// DurationOr parses a duration string, returning def when empty or invalid
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
