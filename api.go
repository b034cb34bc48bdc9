package apiflow

import (
	"regexp"
	"strings"

	"github.com/broady/apiflow/internal/casing"
	"github.com/go-playground/validator/v10"
)

var (
	validate    = validator.New(validator.WithRequiredStructEnabled())
	apiNameExpr = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

func init() {
	if err := validate.RegisterValidation("apiname", func(fl validator.FieldLevel) bool {
		return apiNameExpr.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// DefaultName is the token prefix used when Config.Name is empty.
const DefaultName = "API"

// BodyType selects how object request bodies are encoded.
type BodyType string

const (
	BodyJSON       BodyType = "json"
	BodyURLEncoded BodyType = "urlencoded"
)

// CaseOptions toggles key case conversion per payload direction.
type CaseOptions struct {
	Query    bool `yaml:"query"`
	Body     bool `yaml:"body"`
	Response bool `yaml:"response"`
}

// Options are API wide request options.
type Options struct {
	// StripTrailingSlash removes one trailing slash from every composed URL.
	StripTrailingSlash bool `yaml:"strip_trailing_slash"`

	// BodyType controls object body encoding. It does not set Content-Type.
	BodyType BodyType `yaml:"body_type" validate:"omitempty,oneof=json urlencoded"`

	Camelize   CaseOptions `yaml:"camelize"`
	Decamelize CaseOptions `yaml:"decamelize"`
}

// EntityConfig declares an entity. Name defaults to Schema.Key().
type EntityConfig struct {
	Name       string `yaml:"name"`
	Schema     Schema `yaml:"-"`
	URLPrefix  string `yaml:"url_prefix"`
	URLPostfix string `yaml:"url_postfix"`
}

// Config is the raw API declaration passed to CreateAPI.
type Config struct {
	Name    string  `yaml:"name" validate:"omitempty,apiname"`
	URL     string  `yaml:"url" validate:"required"`
	Options Options `yaml:"options"`

	Entities               map[string]EntityConfig `yaml:"entities"`
	Defaults               Props                   `yaml:"defaults"`
	EntityEndpoints        map[string]Props        `yaml:"entity_endpoints"`
	EntityEndpointDefaults Props                   `yaml:"entity_endpoint_defaults"`
	Endpoints              map[string]Props        `yaml:"endpoints"`
	EndpointDefaults       Props                   `yaml:"endpoint_defaults"`

	// Normalizer is the optional schema capability used by ParseJSON.
	Normalizer Normalizer `yaml:"-"`
}

// API is a compiled, immutable API definition.
type API struct {
	Name    string
	URL     string
	Options Options

	Entities               map[string]*Entity
	Defaults               *Bag
	EntityEndpoints        map[string]*Bag
	EntityEndpointDefaults *Bag
	Endpoints              map[string]*Bag
	EndpointDefaults       *Bag

	Normalizer Normalizer

	Types       Types
	MergedTypes MergedTypes
}

// CreateAPI validates a declaration and compiles it into an API definition,
// generating its lifecycle tokens. Every failure is a ConfigurationError and no
// partial definition is returned.
func CreateAPI(cfg Config) (*API, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.URL = strings.TrimSpace(cfg.URL)
	if err := validate.Struct(cfg); err != nil {
		return nil, validationError(err)
	}

	api := &API{
		Name:       DefaultName,
		URL:        strings.TrimSuffix(cfg.URL, "/"),
		Options:    cfg.Options,
		Normalizer: cfg.Normalizer,
	}
	if cfg.Name != "" {
		api.Name = casing.UpperUnderscore(cfg.Name)
	}
	if api.Options.BodyType == "" {
		api.Options.BodyType = BodyJSON
	}
	if err := validate.Var(api.URL, "url"); err != nil {
		return nil, ConfigurationError("invalid API base url: %s", cfg.URL)
	}

	var err error
	if api.Defaults, err = compileProps("defaults", cfg.Defaults); err != nil {
		return nil, err
	}
	if api.EntityEndpointDefaults, err = compileProps("entity endpoint defaults", cfg.EntityEndpointDefaults); err != nil {
		return nil, err
	}
	if api.EndpointDefaults, err = compileProps("endpoint defaults", cfg.EndpointDefaults); err != nil {
		return nil, err
	}

	api.Entities = make(map[string]*Entity, len(cfg.Entities))
	for key, ec := range cfg.Entities {
		entity, err := compileEntity(key, ec)
		if err != nil {
			return nil, err
		}
		if _, dup := api.Entities[entity.Name]; dup {
			return nil, ConfigurationError("duplicate entity name %q", entity.Name)
		}
		api.Entities[entity.Name] = entity
	}

	if api.EntityEndpoints, err = compileEndpoints("entity endpoint", cfg.EntityEndpoints, cfg.EntityEndpointDefaults, cfg.Defaults); err != nil {
		return nil, err
	}
	if api.Endpoints, err = compileEndpoints("endpoint", cfg.Endpoints, cfg.EndpointDefaults, cfg.Defaults); err != nil {
		return nil, err
	}

	if err := generateTypes(api); err != nil {
		return nil, err
	}
	return api, nil
}

func compileEntity(key string, ec EntityConfig) (*Entity, error) {
	name := strings.TrimSpace(ec.Name)
	if name == "" && ec.Schema != nil {
		name = ec.Schema.Key()
	}
	if name == "" {
		return nil, ConfigurationError("missing name for entity %q: set Name or a Schema with a key", key)
	}
	return &Entity{
		Name:       name,
		Schema:     ec.Schema,
		URLPrefix:  ec.URLPrefix,
		URLPostfix: ec.URLPostfix,
	}, nil
}

// compileEndpoints compiles a set of endpoint declarations. Each endpoint must
// declare a url itself or inherit one from its defaults layers.
func compileEndpoints(kind string, decls map[string]Props, layers ...Props) (map[string]*Bag, error) {
	hasDefaultURL := false
	for _, l := range layers {
		if _, ok := l[string(PropURL)]; ok {
			hasDefaultURL = true
		}
	}

	out := make(map[string]*Bag, len(decls))
	for name, props := range decls {
		if strings.TrimSpace(name) == "" {
			return nil, ConfigurationError("empty %s name", kind)
		}
		if _, ok := props[string(PropURL)]; !ok && !hasDefaultURL {
			return nil, ConfigurationError("missing request url for %s %q", kind, name)
		}
		bag, err := compileProps(kind+" "+name, props)
		if err != nil {
			return nil, err
		}
		out[name] = bag
	}
	return out, nil
}
