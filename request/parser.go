package request

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/charset"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
)

// Profiles is the profile registry consulted when a request names a profile.
// Lookups of unknown profiles return an error.
type Profiles interface {
	Plugins(profile string) (map[string]string, error)
	Protocol(profile string) (string, error)
	Handler(profile string) (string, error)
	OptionMappings(profile string) (map[string]string, error)
}

// Handlers resolves protocol handler names.
type Handlers interface {
	Handler(name string) (gateway.ProtocolHandler, error)
}

// plugin roles a profile may define.
const (
	optFragmenter = "fragmenter"
	optAccessor   = "accessor"
	optResolver   = "resolver"
)

// Parser turns segment request headers into a RequestContext.
type Parser struct {
	Profiles       Profiles
	Handlers       Handlers
	VersionChecker gateway.VersionChecker
	APIVersion     string
	Logger         logger.Logger
}

// NewParser returns a Parser for the server API version which checks
// client versions by major component.
func NewParser(profiles Profiles, handlers Handlers, log logger.Logger) *Parser {
	return &Parser{
		Profiles:       profiles,
		Handlers:       handlers,
		VersionChecker: gateway.MajorVersionChecker{},
		APIVersion:     gateway.APIVersion,
		Logger:         log,
	}
}

// Parse decodes headers. The fragmenter is required unless rt is
// WriteBridge.
func (p *Parser) Parse(headers map[string][]string, rt gateway.RequestType) (*gateway.RequestContext, error) {
	params, err := NewMap(headers)
	if err != nil {
		return nil, err
	}

	rc := &gateway.RequestContext{
		RequestType:           rt,
		AdditionalConfigProps: map[string]string{},
	}

	if err := p.parseAPIVersion(params, rc); err != nil {
		return nil, err
	}

	rc.Alignment = params.PropertyOr("ALIGNMENT", "")
	rc.Options = params.Options()

	if err := p.applyProfile(rc); err != nil {
		return nil, err
	}

	if err := parseIdentity(params, rc); err != nil {
		return nil, err
	}
	if err := parseAddressing(params, rc); err != nil {
		return nil, err
	}
	if err := parseFormat(params, rc); err != nil {
		return nil, err
	}
	if err := parseColumns(params, rc); err != nil {
		return nil, err
	}
	if err := parseStats(rc); err != nil {
		return nil, err
	}
	if err := parsePlugins(rc); err != nil {
		return nil, err
	}
	if err := p.applyHandler(rc); err != nil {
		return nil, err
	}

	if md, ok := params.Property("FRAGMENT-METADATA"); ok {
		b, err := base64.StdEncoding.DecodeString(md)
		if err != nil {
			return nil, gateway.NewErrInvalidValue("FRAGMENT-METADATA", md, "base64")
		}
		if err := rc.SetFragmentMetadata(b); err != nil {
			return nil, err
		}
	}

	if p.Logger != nil {
		p.Logger.Debugf("parsed %s request: xid=%s segment=%d/%d resource=%s profile=%s",
			rt, rc.TransactionID, rc.SegmentID, rc.TotalSegments, rc.DataSource, rc.Profile)
	}
	return rc, nil
}

func (p *Parser) parseAPIVersion(params *Map, rc *gateway.RequestContext) error {
	v, ok := params.Property("PXF-API-VERSION")
	if !ok {
		return gateway.NewErrMissingAPIVersion("PXF-API-VERSION")
	}
	rc.ClientAPIVersion = v
	checker := p.VersionChecker
	if checker == nil {
		checker = gateway.MajorVersionChecker{}
	}
	if !checker.IsCompatible(p.APIVersion, v) {
		return gateway.NewErrAPIVersionMismatch(p.APIVersion, v)
	}
	return nil
}

// applyProfile resolves the profile option. Plugins defined by the profile
// are merged into the options; the request may not define them too.
func (p *Parser) applyProfile(rc *gateway.RequestContext) error {
	profile, ok := rc.Options["profile"]
	if !ok || profile == "" {
		return nil
	}
	profile = strings.ToLower(profile)
	rc.Profile = profile
	rc.Options["profile"] = profile

	if p.Profiles == nil {
		return gateway.NewErrConfiguration("profile '%s' requested but no profiles are configured", profile)
	}

	plugins, err := p.Profiles.Plugins(profile)
	if err != nil {
		return err
	}
	var conflicts []string
	for k := range plugins {
		if _, ok := rc.Options[strings.ToLower(k)]; ok {
			conflicts = append(conflicts, k)
		}
	}
	if len(conflicts) > 0 {
		return gateway.NewErrProfileConflict(profile, conflicts)
	}
	for k, v := range plugins {
		rc.Options[strings.ToLower(k)] = v
	}

	if rc.ProfileScheme, err = p.Profiles.Protocol(profile); err != nil {
		return err
	}

	mappings, err := p.Profiles.OptionMappings(profile)
	if err != nil {
		return err
	}
	lowered := make(map[string]string, len(mappings))
	for k, v := range mappings {
		lowered[strings.ToLower(k)] = v
	}
	for k, v := range rc.Options {
		if target := lowered[k]; target != "" {
			rc.AdditionalConfigProps[target] = v
		}
	}
	return nil
}

// applyHandler lets the profile's protocol handler override the plugins.
func (p *Parser) applyHandler(rc *gateway.RequestContext) error {
	if rc.Profile == "" || p.Profiles == nil {
		return nil
	}
	name, err := p.Profiles.Handler(rc.Profile)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if p.Handlers == nil {
		return gateway.NewErrHandler(name, fmt.Errorf("no protocol handlers are registered"))
	}
	h, err := p.Handlers.Handler(name)
	if err != nil {
		return gateway.NewErrHandler(name, err)
	}
	rc.Fragmenter = h.FragmenterName(rc)
	rc.Accessor = h.AccessorName(rc)
	rc.Resolver = h.ResolverName(rc)
	return nil
}

func parseIdentity(params *Map, rc *gateway.RequestContext) (err error) {
	if rc.SegmentID, err = params.IntProperty("SEGMENT-ID"); err != nil {
		return err
	}
	if rc.TotalSegments, err = params.IntProperty("SEGMENT-COUNT"); err != nil {
		return err
	}
	if rc.SessionID, err = params.IntProperty("SESSION-ID"); err != nil {
		return err
	}
	if rc.CommandCount, err = params.IntProperty("COMMAND-COUNT"); err != nil {
		return err
	}
	if rc.TransactionID, err = params.RequiredProperty("XID"); err != nil {
		return err
	}
	if rc.User, err = params.RequiredProperty("USER"); err != nil {
		return err
	}
	rc.Login = rc.Option("user")
	rc.Secret = rc.Option("pass")

	rc.ServerName = rc.Option("server")
	if rc.ServerName == "" {
		rc.ServerName = gateway.DefaultServerName
	}
	rc.Config = rc.Option("config")
	if rc.Config == "" {
		rc.Config = rc.ServerName
	}
	return nil
}

func parseAddressing(params *Map, rc *gateway.RequestContext) (err error) {
	if rc.Host, err = params.RequiredProperty("URL-HOST"); err != nil {
		return err
	}
	if rc.Port, err = params.IntProperty("URL-PORT"); err != nil {
		return err
	}
	if rc.DataSource, err = params.RequiredProperty("DATA-DIR"); err != nil {
		return err
	}
	if rc.SchemaName, err = params.RequiredProperty("SCHEMA-NAME"); err != nil {
		return err
	}
	if rc.TableName, err = params.RequiredProperty("TABLE-NAME"); err != nil {
		return err
	}
	if rc.FragmentIndex, err = params.IntPropertyOr("FRAGMENT-INDEX", 0); err != nil {
		return err
	}

	hasFilter, err := params.RequiredProperty("HAS-FILTER")
	if err != nil {
		return err
	}
	rc.HasFilter = hasFilter == "1"
	if rc.HasFilter {
		if rc.FilterString, err = params.RequiredProperty("FILTER"); err != nil {
			return err
		}
	}
	return nil
}

func parseFormat(params *Map, rc *gateway.RequestContext) error {
	wire, err := params.RequiredProperty("FORMAT")
	if err != nil {
		return err
	}
	if rc.OutputFormat, err = gateway.ParseOutputFormat(wire); err != nil {
		return err
	}

	rc.Format = rc.Option("format")
	if rc.Format == "" && rc.Profile != "" {
		if i := strings.LastIndexByte(rc.Profile, ':'); i >= 0 {
			rc.Format = rc.Profile[i+1:]
		}
	}

	rc.DataEncoding = params.PropertyOr("DATA-ENCODING", "UTF8")
	rc.DatabaseEncoding = params.PropertyOr("DATABASE-ENCODING", "UTF8")
	for _, name := range []string{rc.DataEncoding, rc.DatabaseEncoding} {
		if _, err := charset.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

func parseColumns(params *Map, rc *gateway.RequestContext) error {
	count, err := params.IntProperty("ATTRS")
	if err != nil {
		return err
	}

	projected := map[int]bool{}
	if idx, ok := params.Property("ATTRS-PROJ-IDX"); ok && idx != "" {
		for _, s := range strings.Split(idx, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return gateway.NewErrInvalidValue("ATTRS-PROJ-IDX", idx, "a list of integers")
			}
			projected[n] = true
		}
	}

	recordkey := rc.Option("recordkey")
	for i := 0; i < count; i++ {
		col := gateway.ColumnDescriptor{Index: i}
		if col.Name, err = params.RequiredProperty(fmt.Sprintf("ATTR-NAME%d", i)); err != nil {
			return err
		}
		code, err := params.IntProperty(fmt.Sprintf("ATTR-TYPECODE%d", i))
		if err != nil {
			return err
		}
		col.Type = gateway.DataTypeOf(code)
		col.TypeName = params.PropertyOr(fmt.Sprintf("ATTR-TYPENAME%d", i), gateway.TypeName(code))
		if col.TypeModifiers, err = parseTypeMods(params, i); err != nil {
			return err
		}
		col.Projected = len(projected) == 0 || projected[i]
		if col.Projected {
			rc.NumAttrsProjected++
		}
		rc.Columns = append(rc.Columns, col)

		if recordkey != "" && strings.EqualFold(col.Name, recordkey) {
			rc.Columns[i].IsKey = true
			key := rc.Columns[i]
			rc.RecordkeyColumn = &key
		}
	}
	return nil
}

func parseTypeMods(params *Map, i int) ([]int, error) {
	countName := fmt.Sprintf("ATTR-TYPEMOD%d-COUNT", i)
	raw, ok := params.Property(countName)
	if !ok {
		return nil, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New(gateway.ErrInvalidValue, countName+" must be an integer")
	}
	if count < 0 {
		return nil, errors.New(gateway.ErrInvalidValue, countName+" must be a positive integer")
	}
	// The count is client supplied, so grow mods only as values are found.
	var mods []int
	for j := 0; j < count; j++ {
		name := fmt.Sprintf("ATTR-TYPEMOD%d-%d", i, j)
		v, err := params.RequiredProperty(name)
		if err != nil {
			return nil, err
		}
		mod, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New(gateway.ErrInvalidValue, name+" must be an integer")
		}
		mods = append(mods, mod)
	}
	if mods == nil {
		mods = []int{}
	}
	return mods, nil
}

// parseStats reads the statistics options. Both the underscore and the
// older dash spellings are accepted.
func parseStats(rc *gateway.RequestContext) error {
	for _, name := range []string{"stats_max_fragments", "stats-max-fragments"} {
		if v, ok := rc.LookupOption(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return gateway.NewErrInvalidValue(strings.ToUpper(name), v, "an integer")
			}
			rc.StatsMaxFragments = n
		}
	}
	for _, name := range []string{"stats_sample_ratio", "stats-sample-ratio"} {
		if v, ok := rc.LookupOption(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return gateway.NewErrInvalidValue(strings.ToUpper(name), v, "a number")
			}
			rc.StatsSampleRatio = f
		}
	}
	return nil
}

func parsePlugins(rc *gateway.RequestContext) error {
	rc.Fragmenter = rc.Option(optFragmenter)
	if rc.Fragmenter == "" && rc.RequestType != gateway.WriteBridge {
		return gateway.NewErrMissingProperty(strings.ToUpper(optFragmenter))
	}
	rc.Accessor = rc.Option(optAccessor)
	if rc.Accessor == "" {
		return gateway.NewErrMissingProperty(strings.ToUpper(optAccessor))
	}
	rc.Resolver = rc.Option(optResolver)
	if rc.Resolver == "" {
		return gateway.NewErrMissingProperty(strings.ToUpper(optResolver))
	}
	return nil
}
