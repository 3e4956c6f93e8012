package feed

import (
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/metadata"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/util"
)

// ParsedFeed is a metadata-and-url feed read back from XML. Records carry
// their adjacent ACLs; ACLs not paired with a record are named resources.
type ParsedFeed struct {
	Datasource     string
	FeedType       string
	Records        []Record
	NamedResources []NamedResource
}

type rawFeed struct {
	XMLName xml.Name `xml:"gsafeed"`
	Header  struct {
		Datasource string `xml:"datasource"`
		FeedType   string `xml:"feedtype"`
	} `xml:"header"`
	Group rawGroup `xml:"group"`
}

type rawGroup struct {
	items []rawItem
}

type rawItem struct {
	record *xmlRecord
	acl    *xmlACL
}

// UnmarshalXML reads the group's record and acl children in document order.
func (g *rawGroup) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "record":
				var r xmlRecord
				if err := d.DecodeElement(&r, &t); err != nil {
					return err
				}
				g.items = append(g.items, rawItem{record: &r})
			case "acl":
				var a xmlACL
				if err := d.DecodeElement(&a, &t); err != nil {
					return err
				}
				g.items = append(g.items, rawItem{acl: &a})
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

// ParseMetadataAndURLFeed reads a metadata-and-url feed back into records and
// named resources, decoding URLs with the given codec.
func ParseMetadataAndURLFeed(codec *docid.Codec, data string) (*ParsedFeed, error) {
	var raw rawFeed
	if err := xml.Unmarshal([]byte(data), &raw); err != nil {
		return nil, skerr.Wrapf(err, "parsing feed XML")
	}
	ret := &ParsedFeed{
		Datasource: raw.Header.Datasource,
		FeedType:   raw.Header.FeedType,
	}
	for _, item := range raw.Group.items {
		if item.record != nil {
			r, err := parseRecord(codec, item.record)
			if err != nil {
				return nil, skerr.Wrap(err)
			}
			ret.Records = append(ret.Records, r)
			continue
		}
		id, fragment, a, err := parseACL(codec, item.acl)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		// An acl directly after its record, addressing the same document
		// without a fragment, belongs to that record.
		if n := len(ret.Records); n > 0 && fragment == "" && ret.Records[n-1].DocId == id &&
			lastItemWasRecord(raw.Group.items, item) {
			aclCopy := a
			ret.Records[n-1].Acl = &aclCopy
			continue
		}
		ret.NamedResources = append(ret.NamedResources, NamedResource{DocId: id, Fragment: fragment, Acl: a})
	}
	return ret, nil
}

// lastItemWasRecord reports whether the item immediately preceding cur in
// items is a record.
func lastItemWasRecord(items []rawItem, cur rawItem) bool {
	for i, it := range items {
		if it.acl == cur.acl && it.acl != nil {
			return i > 0 && items[i-1].record != nil
		}
	}
	return false
}

func parseRecord(codec *docid.Codec, xr *xmlRecord) (Record, error) {
	u, err := url.Parse(xr.URL)
	if err != nil {
		return Record{}, skerr.Wrapf(err, "parsing record url %q", xr.URL)
	}
	id, err := codec.Decode(u)
	if err != nil {
		return Record{}, skerr.Wrapf(err, "decoding record url %q", xr.URL)
	}
	r := Record{
		DocId:      id,
		DisplayURL: xr.DisplayURL,
	}
	if xr.Action == "delete" {
		r.Action = Delete
	}
	if xr.LastModified != "" {
		t, err := util.ParseTimeStamp(xr.LastModified)
		if err != nil {
			return Record{}, skerr.Wrapf(err, "parsing last-modified %q", xr.LastModified)
		}
		r.LastModified = t
	}
	r.Lock = xr.Lock == "true"
	r.CrawlImmediately = xr.CrawlImmediately == "true"
	r.CrawlOnce = xr.CrawlOnce == "true"
	r.NoFollow = xr.NoFollow == "true"
	if xr.Metadata != nil && len(xr.Metadata.Metas) > 0 {
		md := metadata.New()
		for _, m := range xr.Metadata.Metas {
			if err := md.Add(m.Name, m.Content); err != nil {
				return Record{}, skerr.Wrap(err)
			}
		}
		r.Metadata = md
	}
	return r, nil
}

// decodeWithFragment splits a feed URL into its document identifier and the
// query-string-carried fragment.
func decodeWithFragment(codec *docid.Codec, raw string) (docid.DocId, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", skerr.Wrapf(err, "parsing feed url %q", raw)
	}
	fragment, err := url.QueryUnescape(u.RawQuery)
	if err != nil {
		return "", "", skerr.Wrapf(err, "unescaping fragment of %q", raw)
	}
	u.RawQuery = ""
	id, err := codec.Decode(u)
	if err != nil {
		return "", "", skerr.Wrapf(err, "decoding feed url %q", raw)
	}
	return id, fragment, nil
}

func parseACL(codec *docid.Codec, xa *xmlACL) (docid.DocId, string, acl.Acl, error) {
	id, fragment, err := decodeWithFragment(codec, xa.URL)
	if err != nil {
		return "", "", acl.Acl{}, skerr.Wrap(err)
	}
	b := acl.NewBuilder()
	if xa.InheritFrom != "" {
		parentId, parentFragment, err := decodeWithFragment(codec, xa.InheritFrom)
		if err != nil {
			return "", "", acl.Acl{}, skerr.Wrap(err)
		}
		b.InheritFromWithFragment(parentId, parentFragment)
	}
	if xa.InheritanceType != "" {
		t, err := acl.ParseInheritanceType(xa.InheritanceType)
		if err != nil {
			return "", "", acl.Acl{}, skerr.Wrap(err)
		}
		b.InheritanceType(t)
	}
	var permitUsers, denyUsers, permitGroups, denyGroups []principal.Principal
	for _, xp := range xa.Principals {
		kind := principal.User
		if xp.Scope == "group" {
			kind = principal.Group
		}
		p, err := principal.New(kind, strings.TrimSpace(xp.Name), xp.Namespace)
		if err != nil {
			return "", "", acl.Acl{}, skerr.Wrap(err)
		}
		if xp.CaseSensitivityType == "everything-case-insensitive" {
			b.CaseInsensitive()
		}
		switch {
		case kind == principal.User && xp.Access == "permit":
			permitUsers = append(permitUsers, p)
		case kind == principal.User && xp.Access == "deny":
			denyUsers = append(denyUsers, p)
		case kind == principal.Group && xp.Access == "permit":
			permitGroups = append(permitGroups, p)
		case kind == principal.Group && xp.Access == "deny":
			denyGroups = append(denyGroups, p)
		default:
			return "", "", acl.Acl{}, skerr.Fmt("principal %q has unknown access %q", xp.Name, xp.Access)
		}
	}
	a, err := b.PermitUsers(permitUsers).
		DenyUsers(denyUsers).
		PermitGroups(permitGroups).
		DenyGroups(denyGroups).
		Build()
	if err != nil {
		return "", "", acl.Acl{}, skerr.Wrap(err)
	}
	return id, fragment, a, nil
}

// ParsedMembership is one group and its members read back from an xmlgroups
// feed.
type ParsedMembership struct {
	Group   principal.Principal
	Members []principal.Principal
}

// ParseGroupDefinitionsFeed reads an xmlgroups feed back into memberships.
func ParseGroupDefinitionsFeed(data string) ([]ParsedMembership, bool, error) {
	var raw xmlGroups
	if err := xml.Unmarshal([]byte(data), &raw); err != nil {
		return nil, false, skerr.Wrapf(err, "parsing xmlgroups XML")
	}
	caseSensitive := true
	var ret []ParsedMembership
	for _, xm := range raw.Memberships {
		g, err := principal.New(principal.Group, strings.TrimSpace(xm.Group.Name), xm.Group.Namespace)
		if err != nil {
			return nil, false, skerr.Wrap(err)
		}
		m := ParsedMembership{Group: g}
		for _, xp := range xm.Members.Principals {
			kind := principal.User
			if xp.Scope == "GROUP" {
				kind = principal.Group
			}
			if xp.CaseSensitivityType == "EVERYTHING_CASE_INSENSITIVE" {
				caseSensitive = false
			}
			p, err := principal.New(kind, strings.TrimSpace(xp.Name), xp.Namespace)
			if err != nil {
				return nil, false, skerr.Wrap(err)
			}
			m.Members = append(m.Members, p)
		}
		ret = append(ret, m)
	}
	return ret, caseSensitive, nil
}
