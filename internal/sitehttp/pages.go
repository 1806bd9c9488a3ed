package sitehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/saddlebagexchange/saddlebag-web/internal/form"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/render"
	"github.com/saddlebagexchange/saddlebag-web/internal/reshape"
	"github.com/saddlebagexchange/saddlebag-web/internal/upstream"
)

const (
	msgNoResults   = "No matching results found."
	msgInvalid     = "Invalid form input."
	msgTooLarge    = "Form submission too large."
	msgUnavailable = "Upstream service unavailable."
	msgInternal    = "Something went wrong while handling this request."
	msgNoUndercuts = "None of your listings are undercut."
)

// result is what a tool hands back for rendering.
type result struct {
	header  []string
	rows    []reshape.Row
	more    []render.Table
	message string
}

// tool is one page. Pages with a nil run render the same template for GET
// and POST.
type tool struct {
	name     string
	path     string
	template string
	title    string
	schema   *form.Schema
	run      func(s *Site, ctx context.Context, p form.Payload) (result, error)
}

var pages = []tool{
	{name: "index", path: "/", template: "index.html", title: "Saddlebag Exchange"},
	{name: "wow", path: "/wow", template: "wow_index.html", title: "World of Warcraft"},
	{name: "ffxiv", path: "/ffxiv", template: "ffxiv_index.html", title: "Final Fantasy XIV"},
	{
		name:     "itemnames",
		path:     "/itemnames",
		template: "itemnames.html",
		title:    "WoW item names",
		schema:   itemNamesSchema,
		run:      (*Site).wowItemNames,
	},
	{
		name:     "ffxiv_itemnames",
		path:     "/ffxiv_itemnames",
		template: "ffxiv_itemnames.html",
		title:    "FFXIV item names",
		run:      (*Site).ffxivItemNames,
	},
	{
		name:     "scan",
		path:     "/scan",
		template: "scan.html",
		title:    "Marketshare scan",
		schema:   scanSchema,
		run:      (*Site).scan,
	},
	{
		name:     "undercuts",
		path:     "/undercuts",
		template: "undercuts.html",
		title:    "Undercut alerts",
		schema:   undercutSchema,
		run:      (*Site).undercuts,
	},
}

func (s *Site) page(t tool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := render.Page{Title: t.title}
		if r.Method != http.MethodPost || t.run == nil {
			s.render.HTML(w, r, http.StatusOK, t.template, data)
			return
		}

		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			s.rec.IncFormRejected(t.path)
			status, msg := http.StatusBadRequest, msgInvalid
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				status, msg = http.StatusRequestEntityTooLarge, msgTooLarge
			}
			log.FromContext(ctx).Warn(ctx, "form body rejected", "err", err)
			data.Message = msg
			s.render.HTML(w, r, status, t.template, data)
			return
		}
		data.Form = echo(t.schema, r.PostForm)

		var payload form.Payload
		if t.schema != nil {
			p, err := t.schema.Decode(r.PostForm)
			var ve *form.ValidationError
			if errors.As(err, &ve) {
				s.rec.IncFormRejected(t.path)
				log.FromContext(ctx).Info(ctx, "form input rejected", "fields", ve.Names())
				data.Message = msgInvalid
				data.Invalid = ve.Names()
				s.render.HTML(w, r, http.StatusBadRequest, t.template, data)
				return
			}
			if err != nil {
				s.fail(w, r, t, data, nil, err)
				return
			}
			payload = p
		}

		res, err := t.run(s, ctx, payload)
		if err != nil {
			s.fail(w, r, t, data, payload, err)
			return
		}
		data.Header = res.header
		data.Rows = res.rows
		data.More = res.more
		data.Message = res.message
		s.render.HTML(w, r, http.StatusOK, t.template, data)
	}
}

// fail maps a tool error to a fixed page. Nothing from the upstream reply or
// the error text reaches the client.
func (s *Site) fail(w http.ResponseWriter, r *http.Request, t tool, data render.Page, payload form.Payload, err error) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	switch {
	case upstream.NoResults(err):
		reason := "empty"
		if errors.Is(err, upstream.ErrMissingEnvelope) {
			reason = "missing_envelope"
		}
		s.rec.IncNoResults(t.path, reason)
		L.Info(ctx, "no results", "reason", reason)
		data.Message = msgNoResults
		if s.opts.DebugPayload && len(payload) > 0 {
			data.Debug = payload
		}
		s.render.HTML(w, r, http.StatusOK, t.template, data)
	case upstream.Unavailable(err):
		L.Error(ctx, err, "upstream call failed")
		data.Message = msgUnavailable
		s.render.HTML(w, r, http.StatusBadGateway, t.template, data)
	default:
		L.Error(ctx, err, "request failed")
		s.render.Error(w, r, http.StatusInternalServerError, msgInternal)
	}
}

// echo returns the submitted values of the schema's fields so the form keeps
// what the user typed.
func echo(schema *form.Schema, vals url.Values) map[string]string {
	if schema == nil || len(schema.Fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		if v := vals.Get(f.Name); v != "" {
			out[f.Name] = v
		}
	}
	return out
}

func (s *Site) scan(ctx context.Context, p form.Payload) (result, error) {
	env, err := s.api.PostJSON(ctx, "/scan/", p)
	if err != nil {
		return result{}, err
	}
	recs, err := upstream.Data(env, upstream.DataKey)
	if err != nil {
		return result{}, err
	}
	recs = reshape.Derive(recs,
		reshape.EpochDate("update_time", colUpdateDate),
		reshape.EpochDate("home_update_time", colHomeUpdateDate),
		reshape.Link(colUniversalis, universalisItemURL, "item_id"),
	)
	fields := append(reshape.Header(scanFields), colUpdateDate, colHomeUpdateDate, colUniversalis)
	rows := reshape.ProjectAll(recs, fields)
	for i := range rows {
		rows[i] = reshape.MoveToEnd(rows[i], "url", colUniversalis)
	}
	return result{header: rows[0].Keys(), rows: rows}, nil
}

func (s *Site) undercuts(ctx context.Context, p form.Payload) (result, error) {
	env, err := s.api.PostJSON(ctx, "/undercut/", p)
	if err != nil {
		return result{}, err
	}
	under, uerr := upstream.Data(env, "undercut_list")
	if uerr != nil && !errors.Is(uerr, upstream.ErrEmpty) {
		return result{}, uerr
	}
	missing, merr := upstream.Values(env, "not_found_list")
	if merr != nil && !upstream.NoResults(merr) {
		return result{}, merr
	}
	if len(under) == 0 && len(missing) == 0 {
		return result{}, uerr
	}

	var res result
	if len(under) > 0 {
		under = reshape.Derive(under, reshape.Link(colUniversalis, universalisItemURL, "item_id"))
		res.header = reshape.Header(undercutFields)
		res.rows = reshape.ProjectAll(under, undercutFields)
	} else {
		res.message = msgNoUndercuts
	}
	if len(missing) > 0 {
		res.more = []render.Table{{
			Caption: "Items not found on the market board",
			Header:  reshape.Header(notFoundFields),
			Rows:    notFoundRows(missing),
		}}
	}
	return res, nil
}

// notFoundRows accepts either bare item ids or objects.
func notFoundRows(vals []any) []reshape.Row {
	rows := make([]reshape.Row, len(vals))
	for i, v := range vals {
		if m, ok := v.(map[string]any); ok {
			rows[i] = reshape.Project(reshape.Record(m), notFoundFields)
			continue
		}
		rows[i] = reshape.Project(reshape.Record{"item_id": v}, notFoundFields)
	}
	return rows
}

func (s *Site) wowItemNames(ctx context.Context, p form.Payload) (result, error) {
	env, err := s.api.PostJSON(ctx, "/wow/itemnames", p)
	if err != nil {
		return result{}, err
	}
	if len(env) == 0 {
		return result{}, fmt.Errorf("%w: no item names", upstream.ErrEmpty)
	}
	rows := make([]reshape.Row, 0, len(env))
	for id, raw := range env {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var name any
		if err := dec.Decode(&name); err != nil {
			return result{}, fmt.Errorf("%w: item %s: %w", upstream.ErrDecode, id, err)
		}
		rows = append(rows, reshape.Project(reshape.Record{"id": id, "name": name}, itemNameFields))
	}
	sortByID(rows)
	return result{header: reshape.Header(itemNameFields), rows: rows}, nil
}

// sortByID orders rows by numeric id. Non-numeric ids sort after numeric
// ones, lexically.
func sortByID(rows []reshape.Row) {
	key := func(r reshape.Row) (int64, string, bool) {
		v, _ := r.Get("id")
		s := reshape.Display(v)
		n, err := strconv.ParseInt(s, 10, 64)
		return n, s, err == nil
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ni, si, oki := key(rows[i])
		nj, sj, okj := key(rows[j])
		switch {
		case oki && okj:
			return ni < nj
		case oki != okj:
			return oki
		default:
			return si < sj
		}
	})
}

type teamcraftItem struct {
	En string `json:"en"`
}

func (s *Site) ffxivItemNames(ctx context.Context, _ form.Payload) (result, error) {
	var names map[string]teamcraftItem
	if err := s.api.GetJSON(ctx, s.opts.ItemsURL, &names); err != nil {
		return result{}, err
	}
	var ids []int64
	if err := s.api.GetJSON(ctx, s.opts.MarketableURL, &ids); err != nil {
		return result{}, err
	}

	rows := make([]reshape.Row, 0, len(ids))
	for _, id := range ids {
		item, ok := names[strconv.FormatInt(id, 10)]
		if !ok || item.En == "" {
			continue
		}
		rows = append(rows, reshape.Project(reshape.Record{"id": id, "name": item.En}, itemNameFields))
	}
	if len(rows) == 0 {
		return result{}, fmt.Errorf("%w: no marketable items with names", upstream.ErrEmpty)
	}
	return result{header: reshape.Header(itemNameFields), rows: rows}, nil
}
