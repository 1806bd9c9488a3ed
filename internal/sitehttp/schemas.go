package sitehttp

import (
	"github.com/saddlebagexchange/saddlebag-web/internal/form"
)

// scanSchema builds the /scan/ payload. Form names are the ones the page has
// always posted; keys are what the API expects.
var scanSchema = &form.Schema{
	Fields: []form.Field{
		{Name: "home_server", Kind: form.String, Check: form.MaxLen(64)},
		{Name: "scan_hours", Key: "hours_ago", Kind: form.Int, Check: form.Min(1)},
		{Name: "sale_amt", Key: "min_sales", Kind: form.Int, Check: form.Min(0)},
		{Name: "roi", Key: "preferred_roi", Kind: form.Int, Check: form.Min(0)},
		{Name: "profit_amt", Key: "min_profit_amount", Kind: form.Int, Check: form.Min(0)},
		{Name: "min_desired_avg_ppu", Kind: form.Int, Check: form.Min(0)},
		{Name: "stack_size", Key: "min_stack_size", Kind: form.Int, Check: form.Min(1)},
		{Name: "filters", Kind: form.IntList, Optional: true, Default: []int{}},
		{Name: "hq_only", Key: "hq", Kind: form.Bool},
		{Name: "game_wide", Key: "region_wide", Kind: form.Bool},
		{Name: "include_vendor", Kind: form.Bool},
		{Name: "out_stock", Key: "show_out_stock", Kind: form.Bool},
	},
	Const: map[string]any{"universalis_list_uid": ""},
}

var undercutSchema = &form.Schema{
	Fields: []form.Field{
		{Name: "home_server", Kind: form.String, Check: form.MaxLen(64)},
		{Name: "retainers", Key: "retainer_names", Kind: form.StringList, Check: form.MaxLen(50)},
		{Name: "min_listings", Kind: form.Int, Optional: true, Check: form.Min(0)},
		{Name: "hq_only", Key: "hq", Kind: form.Bool},
	},
}

// itemNamesSchema posts an empty object.
var itemNamesSchema = &form.Schema{}

// scanFields is the column order of the scan table before derived columns.
var scanFields = []string{
	"ROI",
	"avg_ppu",
	"home_server_price",
	"home_update_time",
	"item_id",
	"npc_vendor_info",
	"ppu",
	"profit_amount",
	"profit_raw_percent",
	"real_name",
	"sale_rates",
	"server",
	"stack_size",
	"update_time",
	"url",
}

// derived columns, computed into new keys
const (
	colUpdateDate     = "update_date"
	colHomeUpdateDate = "home_update_date"
	colUniversalis    = "universalis_link"
)

const universalisItemURL = "https://universalis.app/market/%d"

var undercutFields = []string{
	"item_id",
	"real_name",
	"hq",
	"my_ppu",
	"my_retainer",
	"lowest_ppu",
	"lowest_retainer",
	colUniversalis,
}

var notFoundFields = []string{"item_id", "real_name"}

var itemNameFields = []string{"id", "name"}
