// Package decl loads API declarations from YAML.
//
// A declaration mirrors apiflow.Config. Property values are literals unless they
// use one of the forms below:
//
//	url: {js: '"users/" + payload.id'}   # resolver evaluated with payload and call
//	bailout: {js: 'state.login ? state.login.data : null'}
//	payload: json                        # apiflow.ParseJSON (also: text)
//	payload: {jsonpath: "$.data.items"}  # apiflow.ParseJSONPath
//	payload: {js: 'response.json.items'} # scripted parser
//	schema: single                       # Descriptor of the entity schema (also: list)
//
// Example:
//
//	name: shop
//	url: https://api.example.com/v1
//	entities:
//	  widgets: {schema: widget, url_prefix: widgets}
//	entity_endpoints:
//	  get: {url: {js: "String(payload.id)"}}
//	endpoints:
//	  login: {url: login, method: POST, body: {js: payload}}
package decl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/broady/apiflow"
	"gopkg.in/yaml.v3"
)

// File is the YAML form of apiflow.Config.
type File struct {
	Name    string          `yaml:"name"`
	URL     string          `yaml:"url"`
	Options apiflow.Options `yaml:"options"`

	Entities               map[string]Entity `yaml:"entities"`
	Defaults               Props             `yaml:"defaults"`
	EntityEndpoints        map[string]Props  `yaml:"entity_endpoints"`
	EntityEndpointDefaults Props             `yaml:"entity_endpoint_defaults"`
	Endpoints              map[string]Props  `yaml:"endpoints"`
	EndpointDefaults       Props             `yaml:"endpoint_defaults"`
}

// Entity is the YAML form of apiflow.EntityConfig. Schema names the entity schema
// key. The name defaults to the entity's key in the entities map.
type Entity struct {
	Name       string `yaml:"name"`
	Schema     string `yaml:"schema"`
	URLPrefix  string `yaml:"url_prefix"`
	URLPostfix string `yaml:"url_postfix"`
}

// Props keeps property values as YAML nodes until their property is known.
type Props map[string]yaml.Node

// SchemaKey is an apiflow.Schema identified only by its key.
type SchemaKey string

// Key implements apiflow.Schema.
func (k SchemaKey) Key() string { return string(k) }

// Descriptor is the schema descriptor produced by `schema: single` and `schema: list`.
// Normalizers receive it as their schema argument.
type Descriptor struct {
	Key  string
	List bool
}

// Load reads and parses a declaration file.
func Load(path string) (apiflow.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apiflow.Config{}, apiflow.ConfigurationError("read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML declaration into a Config ready for apiflow.CreateAPI.
// Unknown fields are rejected.
func Parse(data []byte) (apiflow.Config, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return apiflow.Config{}, apiflow.ConfigurationError("decode YAML: %v", err)
	}
	return f.Config()
}

// Config converts the file into an apiflow.Config, compiling scripted values.
func (f *File) Config() (apiflow.Config, error) {
	cfg := apiflow.Config{
		Name:    f.Name,
		URL:     f.URL,
		Options: f.Options,
	}

	if len(f.Entities) > 0 {
		cfg.Entities = make(map[string]apiflow.EntityConfig, len(f.Entities))
		for key, e := range f.Entities {
			name := e.Name
			if name == "" {
				name = key
			}
			ec := apiflow.EntityConfig{
				Name:       name,
				URLPrefix:  e.URLPrefix,
				URLPostfix: e.URLPostfix,
			}
			if e.Schema != "" {
				ec.Schema = SchemaKey(e.Schema)
			}
			cfg.Entities[key] = ec
		}
	}

	var err error
	if cfg.Defaults, err = f.Defaults.compile("defaults"); err != nil {
		return apiflow.Config{}, err
	}
	if cfg.EntityEndpointDefaults, err = f.EntityEndpointDefaults.compile("entity_endpoint_defaults"); err != nil {
		return apiflow.Config{}, err
	}
	if cfg.EndpointDefaults, err = f.EndpointDefaults.compile("endpoint_defaults"); err != nil {
		return apiflow.Config{}, err
	}
	if cfg.EntityEndpoints, err = compileAll("entity_endpoints", f.EntityEndpoints); err != nil {
		return apiflow.Config{}, err
	}
	if cfg.Endpoints, err = compileAll("endpoints", f.Endpoints); err != nil {
		return apiflow.Config{}, err
	}
	return cfg, nil
}

func compileAll(section string, decls map[string]Props) (map[string]apiflow.Props, error) {
	if decls == nil {
		return nil, nil
	}
	out := make(map[string]apiflow.Props, len(decls))
	for name, p := range decls {
		props, err := p.compile(section + "." + name)
		if err != nil {
			return nil, err
		}
		if props == nil {
			props = apiflow.Props{}
		}
		out[name] = props
	}
	return out, nil
}

func (p Props) compile(path string) (apiflow.Props, error) {
	if p == nil {
		return nil, nil
	}
	out := make(apiflow.Props, len(p))
	for key, node := range p {
		v, err := compileValue(apiflow.Property(key), &node)
		if err != nil {
			return nil, apiflow.ConfigurationError("%s.%s (line %d): %v", path, key, node.Line, err)
		}
		out[key] = v
	}
	return out, nil
}

func compileValue(prop apiflow.Property, node *yaml.Node) (any, error) {
	if src, ok := directive(node, "js"); ok {
		prog, err := compileScript(string(prop), src)
		if err != nil {
			return nil, err
		}
		switch prop {
		case apiflow.PropBailout:
			return prog.bailout(), nil
		case apiflow.PropPayload, apiflow.PropError:
			return prog.parser(), nil
		case apiflow.PropSchema:
			return prog.schema(), nil
		default:
			return prog.resolver(), nil
		}
	}

	switch prop {
	case apiflow.PropPayload, apiflow.PropError:
		if expr, ok := directive(node, "jsonpath"); ok {
			return apiflow.ParseJSONPath(expr), nil
		}
		if node.Kind == yaml.ScalarNode {
			switch strings.ToLower(node.Value) {
			case "json":
				return apiflow.ParserFunc(apiflow.ParseJSON), nil
			case "text":
				return apiflow.ParserFunc(apiflow.ParseText), nil
			}
		}
	case apiflow.PropSchema:
		if node.Kind == yaml.ScalarNode {
			switch strings.ToLower(node.Value) {
			case "single", "list":
				list := strings.EqualFold(node.Value, "list")
				return apiflow.SchemaFunc(func(entity apiflow.Schema) (any, error) {
					if entity == nil {
						return nil, fmt.Errorf("schema %s used without an entity schema", node.Value)
					}
					return Descriptor{Key: entity.Key(), List: list}, nil
				}), nil
			}
		}
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("value is null")
	}
	return v, nil
}

// directive returns the string value of a single-key mapping {name: value}.
func directive(node *yaml.Node, name string) (string, bool) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return "", false
	}
	k, v := node.Content[0], node.Content[1]
	if k.Value != name || v.Kind != yaml.ScalarNode {
		return "", false
	}
	return v.Value, true
}
