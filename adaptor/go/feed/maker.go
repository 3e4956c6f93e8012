package feed

import (
	"bytes"
	"encoding/xml"
	"net/url"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/util"
)

const (
	// MetadataAndURLFeedType is the feedtype of identifier feeds.
	MetadataAndURLFeedType = "metadata-and-url"

	gsafeedDoctype   = `<!DOCTYPE gsafeed PUBLIC "-//Google//DTD GSA Feeds//EN" "gsafeed.dtd">`
	xmlgroupsDoctype = `<!DOCTYPE xmlgroups PUBLIC "-//Google//DTD GSA Feeds//EN" "gsafeed.dtd">`

	// placeholderComment is emitted when no comments are configured. Some
	// appliance parsers mis-handle a self-closed root, so every feed starts
	// with at least one comment node.
	placeholderComment = "GSA EasyConnector"
)

// Maker serializes batches of records, named-resource ACLs, and group
// definitions into the appliance's feed XML.
type Maker struct {
	codec *docid.Codec

	// separateClosingRecordTag forces "<record> </record>" instead of
	// "<record/>" for appliance parsers that choke on self-closed records.
	separateClosingRecordTag bool

	// useAuthMethodWorkaround stamps authmethod="httpsso" on the group so
	// served documents are fetched with the authentication headers.
	useAuthMethodWorkaround bool

	crawlImmediatelyOverride *bool
	crawlOnceOverride        *bool

	comments []string
}

// MakerOption configures a Maker.
type MakerOption func(*Maker)

// WithSeparateClosingRecordTag enables the non-self-closing <record>
// workaround.
func WithSeparateClosingRecordTag() MakerOption {
	return func(m *Maker) { m.separateClosingRecordTag = true }
}

// WithAuthMethodWorkaround adds authmethod="httpsso" to every feed.
func WithAuthMethodWorkaround() MakerOption {
	return func(m *Maker) { m.useAuthMethodWorkaround = true }
}

// WithCrawlImmediatelyOverride forces crawl-immediately on every record.
func WithCrawlImmediatelyOverride(v bool) MakerOption {
	return func(m *Maker) { m.crawlImmediatelyOverride = &v }
}

// WithCrawlOnceOverride forces crawl-once on every record.
func WithCrawlOnceOverride(v bool) MakerOption {
	return func(m *Maker) { m.crawlOnceOverride = &v }
}

// WithComments sets the comment nodes emitted at the top of every feed.
func WithComments(comments ...string) MakerOption {
	return func(m *Maker) { m.comments = comments }
}

// NewMaker returns a Maker that encodes identifiers with the given codec.
func NewMaker(codec *docid.Codec, opts ...MakerOption) *Maker {
	m := &Maker{codec: codec}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type xmlMeta struct {
	XMLName xml.Name `xml:"meta"`
	Name    string   `xml:"name,attr"`
	Content string   `xml:"content,attr"`
}

type xmlMetadata struct {
	XMLName xml.Name  `xml:"metadata"`
	Metas   []xmlMeta `xml:"meta"`
}

type xmlRecord struct {
	XMLName          xml.Name `xml:"record"`
	URL              string   `xml:"url,attr"`
	DisplayURL       string   `xml:"displayurl,attr,omitempty"`
	Action           string   `xml:"action,attr,omitempty"`
	Mimetype         string   `xml:"mimetype,attr"`
	LastModified     string   `xml:"last-modified,attr,omitempty"`
	Lock             string   `xml:"lock,attr,omitempty"`
	CrawlImmediately string   `xml:"crawl-immediately,attr,omitempty"`
	CrawlOnce        string   `xml:"crawl-once,attr,omitempty"`
	NoFollow         string   `xml:"no-follow,attr,omitempty"`
	// Space carries the single-space text node used by the
	// separate-closing-tag workaround.
	Space    string       `xml:",chardata"`
	Metadata *xmlMetadata `xml:"metadata,omitempty"`
}

type xmlPrincipal struct {
	XMLName             xml.Name `xml:"principal"`
	Scope               string   `xml:"scope,attr"`
	Access              string   `xml:"access,attr,omitempty"`
	Namespace           string   `xml:"namespace,attr,omitempty"`
	CaseSensitivityType string   `xml:"case-sensitivity-type,attr,omitempty"`
	Name                string   `xml:",chardata"`
}

type xmlACL struct {
	XMLName         xml.Name       `xml:"acl"`
	URL             string         `xml:"url,attr,omitempty"`
	InheritFrom     string         `xml:"inherit-from,attr,omitempty"`
	InheritanceType string         `xml:"inheritance-type,attr,omitempty"`
	Principals      []xmlPrincipal `xml:"principal"`
}

// xmlGroup holds records and acls in emission order.
type xmlGroup struct {
	authMethod string
	items      []interface{}
}

// MarshalXML emits <group> with its children in insertion order.
func (g xmlGroup) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "group"}
	if g.authMethod != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "authmethod"}, Value: g.authMethod})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, item := range g.items {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

type xmlFeed struct {
	XMLName xml.Name `xml:"gsafeed"`
	Header  struct {
		Datasource string `xml:"datasource"`
		FeedType   string `xml:"feedtype"`
	} `xml:"header"`
	Group xmlGroup `xml:"group"`
}

type xmlMembership struct {
	XMLName xml.Name     `xml:"membership"`
	Group   xmlPrincipal `xml:"principal"`
	Members struct {
		Principals []xmlPrincipal `xml:"principal"`
	} `xml:"members"`
}

type xmlGroups struct {
	XMLName     xml.Name        `xml:"xmlgroups"`
	Memberships []xmlMembership `xml:"membership"`
}

// preamble writes the XML declaration, the DOCTYPE, and the leading
// comments.
func (m *Maker) preamble(buf *bytes.Buffer, doctype string) {
	buf.WriteString(xml.Header)
	buf.WriteString(doctype)
	buf.WriteString("\n")
	comments := m.comments
	if len(comments) == 0 {
		comments = []string{placeholderComment}
	}
	for _, c := range comments {
		buf.WriteString("<!--")
		buf.WriteString(c)
		buf.WriteString("-->\n")
	}
}

// encodeWithFragment returns the document's encoded URL, carrying the
// fragment as a query string because the appliance normalizes away real URI
// fragments.
func (m *Maker) encodeWithFragment(id docid.DocId, fragment string) string {
	u := m.codec.Encode(id)
	if fragment != "" {
		u.RawQuery = url.QueryEscape(fragment)
	}
	return u.String()
}

func (m *Maker) recordToXML(r Record) (*xmlRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, skerr.Wrap(err)
	}
	xr := &xmlRecord{
		URL:        m.codec.Encode(r.DocId).String(),
		DisplayURL: r.DisplayURL,
		Mimetype:   "text/plain",
	}
	if r.Action == Delete {
		xr.Action = "delete"
	}
	if !r.LastModified.IsZero() {
		xr.LastModified = util.TimeStamp(r.LastModified)
	}
	if r.Lock {
		xr.Lock = "true"
	}
	crawlImmediately := r.CrawlImmediately
	if m.crawlImmediatelyOverride != nil {
		crawlImmediately = *m.crawlImmediatelyOverride
	}
	if crawlImmediately {
		xr.CrawlImmediately = "true"
	}
	crawlOnce := r.CrawlOnce
	if m.crawlOnceOverride != nil {
		crawlOnce = *m.crawlOnceOverride
	}
	if crawlOnce {
		xr.CrawlOnce = "true"
	}
	if r.NoFollow {
		xr.NoFollow = "true"
	}
	if m.separateClosingRecordTag && r.Metadata == nil {
		xr.Space = " "
	}
	if r.Metadata != nil && r.Metadata.Len() > 0 {
		xm := &xmlMetadata{}
		for _, e := range r.Metadata.Entries() {
			xm.Metas = append(xm.Metas, xmlMeta{Name: e.Name, Content: e.Value})
		}
		xr.Metadata = xm
	}
	return xr, nil
}

// aclToXML renders an ACL for the given document (with optional named
// resource fragment).
func (m *Maker) aclToXML(id docid.DocId, fragment string, a acl.Acl) *xmlACL {
	xa := &xmlACL{
		URL: m.encodeWithFragment(id, fragment),
	}
	if parent, ok := a.InheritFrom(); ok {
		xa.InheritFrom = m.encodeWithFragment(parent.DocId, parent.Fragment)
	}
	if a.InheritanceType() != acl.ChildOverrides {
		xa.InheritanceType = a.InheritanceType().String()
	}
	sensitivity := ""
	if !a.IsCaseSensitive() {
		sensitivity = "everything-case-insensitive"
	}
	add := func(ps []principal.Principal, access string) {
		for _, p := range ps {
			xp := xmlPrincipal{
				Scope:               p.Kind.String(),
				Access:              access,
				Name:                p.Name,
				CaseSensitivityType: sensitivity,
			}
			if p.Namespace != principal.DefaultNamespace {
				xp.Namespace = p.Namespace
			}
			xa.Principals = append(xa.Principals, xp)
		}
	}
	add(a.PermitUsers(), "permit")
	add(a.PermitGroups(), "permit")
	add(a.DenyUsers(), "deny")
	add(a.DenyGroups(), "deny")
	return xa
}

// MakeMetadataAndURLFeed serializes one batch of records into a
// metadata-and-url feed document.
func (m *Maker) MakeMetadataAndURLFeed(datasource string, records []Record) (string, error) {
	feed := xmlFeed{}
	feed.Header.Datasource = datasource
	feed.Header.FeedType = MetadataAndURLFeedType
	if m.useAuthMethodWorkaround {
		feed.Group.authMethod = "httpsso"
	}
	for _, r := range records {
		xr, err := m.recordToXML(r)
		if err != nil {
			return "", skerr.Wrap(err)
		}
		feed.Group.items = append(feed.Group.items, xr)
		if r.Acl != nil {
			feed.Group.items = append(feed.Group.items, m.aclToXML(r.DocId, "", *r.Acl))
		}
	}
	return m.serialize(&feed)
}

// NamedResource is an ACL stored under its own identifier (and optional
// fragment) for other documents to inherit from.
type NamedResource struct {
	DocId    docid.DocId
	Fragment string
	Acl      acl.Acl
}

// MakeNamedResourcesFeed serializes named-resource ACLs into a
// metadata-and-url feed containing only <acl> elements.
func (m *Maker) MakeNamedResourcesFeed(datasource string, resources []NamedResource) (string, error) {
	feed := xmlFeed{}
	feed.Header.Datasource = datasource
	feed.Header.FeedType = MetadataAndURLFeedType
	for _, nr := range resources {
		if nr.DocId == "" {
			return "", skerr.Fmt("named resource requires a DocId")
		}
		feed.Group.items = append(feed.Group.items, m.aclToXML(nr.DocId, nr.Fragment, nr.Acl))
	}
	return m.serialize(&feed)
}

func (m *Maker) serialize(feed *xmlFeed) (string, error) {
	var buf bytes.Buffer
	m.preamble(&buf, gsafeedDoctype)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return "", skerr.Wrapf(err, "serializing feed")
	}
	if err := enc.Flush(); err != nil {
		return "", skerr.Wrap(err)
	}
	buf.WriteString("\n")
	return buf.String(), nil
}

// GroupDefinitions is a set of group memberships keyed by the group
// principal.
type GroupDefinitions map[principal.Principal][]principal.Principal

// MakeGroupDefinitionsFeed serializes group memberships into an xmlgroups
// feed. Groups and members are sorted for determinism.
func (m *Maker) MakeGroupDefinitionsFeed(groups GroupDefinitions, caseSensitive bool) (string, error) {
	sensitivity := "EVERYTHING_CASE_SENSITIVE"
	if !caseSensitive {
		sensitivity = "EVERYTHING_CASE_INSENSITIVE"
	}
	keys := make([]principal.Principal, 0, len(groups))
	for g := range groups {
		if !g.IsGroup() {
			return "", skerr.Fmt("group definition key %q must be a group", g.Name)
		}
		keys = append(keys, g)
	}
	principal.Sort(keys)

	doc := xmlGroups{}
	for _, g := range keys {
		membership := xmlMembership{
			Group: xmlPrincipal{
				Scope:     "GROUP",
				Name:      g.Name,
				Namespace: g.Namespace,
			},
		}
		members := make([]principal.Principal, len(groups[g]))
		copy(members, groups[g])
		principal.Sort(members)
		for _, p := range members {
			scope := "USER"
			if p.IsGroup() {
				scope = "GROUP"
			}
			membership.Members.Principals = append(membership.Members.Principals, xmlPrincipal{
				Scope:               scope,
				Name:                p.Name,
				Namespace:           p.Namespace,
				CaseSensitivityType: sensitivity,
			})
		}
		doc.Memberships = append(doc.Memberships, membership)
	}

	var buf bytes.Buffer
	m.preamble(&buf, xmlgroupsDoctype)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return "", skerr.Wrapf(err, "serializing group definitions")
	}
	if err := enc.Flush(); err != nil {
		return "", skerr.Wrap(err)
	}
	buf.WriteString("\n")
	return buf.String(), nil
}
