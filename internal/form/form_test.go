package form

import (
	"errors"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

func TestParseBool(t *testing.T) {
	if !ParseBool("True") {
		t.Fatal(`ParseBool("True") = false`)
	}
	for _, s := range []string{"true", "TRUE", "1", "yes", "on", "", "False", " True"} {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true", s)
		}
	}
}

var scanLike = Schema{
	Fields: []Field{
		{Name: "roi", Key: "preferred_roi", Kind: Int},
		{Name: "price", Kind: Float, Check: Min(0)},
		{Name: "hq_only", Key: "hq", Kind: Bool},
		{Name: "home_server", Kind: String},
		{Name: "filters", Kind: IntList},
	},
	Const: map[string]any{"universalis_list_uid": ""},
}

func TestDecode_Valid(t *testing.T) {
	got, err := scanLike.Decode(url.Values{
		"roi":         {"50"},
		"price":       {"1.5"},
		"hq_only":     {"True"},
		"home_server": {"Famfrit"},
		"filters":     {"7"},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Payload{
		"preferred_roi":        50,
		"price":                1.5,
		"hq":                   true,
		"home_server":          "Famfrit",
		"filters":              []int{7},
		"universalis_list_uid": "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %#v\nwant %#v", got, want)
	}
}

func TestDecode_FilterSentinel(t *testing.T) {
	got, err := scanLike.Decode(url.Values{
		"roi": {"1"}, "price": {"1"}, "home_server": {"x"}, "filters": {"-1"},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if l, ok := got["filters"].([]int); !ok || len(l) != 0 {
		t.Fatalf("filters = %#v, want empty list", got["filters"])
	}
	if got["hq"] != false {
		t.Fatalf("absent bool = %v, want false", got["hq"])
	}
}

func TestDecode_CollectsEveryBadField(t *testing.T) {
	_, err := scanLike.Decode(url.Values{
		"roi":     {"fifty"},
		"price":   {"-3"},
		"filters": {"<script>"},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	want := []string{"filters", "home_server", "price", "roi"}
	if got := ve.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	if strings.Contains(ve.Error(), "<script>") || strings.Contains(ve.Error(), "fifty") {
		t.Fatalf("error echoes raw input: %s", ve.Error())
	}
}

func TestDecode_BoolIsExactLiteral(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "hq_only", Key: "hq", Kind: Bool}}}
	for in, want := range map[string]bool{
		"True":   true,
		" True":  false,
		"True ":  false,
		"\tTrue": false,
		"true":   false,
	} {
		got, err := s.Decode(url.Values{"hq_only": {in}})
		if err != nil {
			t.Fatalf("Decode(%q): %v", in, err)
		}
		if got["hq"] != want {
			t.Errorf("hq_only=%q decoded to %v, want %v", in, got["hq"], want)
		}
	}
}

func TestDecode_FloatMustBeFinite(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "ratio", Kind: Float}}}
	for _, in := range []string{"NaN", "nan", "Inf", "-Inf", "+infinity", "1e999"} {
		_, err := s.Decode(url.Values{"ratio": {in}})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("ratio=%q: err = %v, want *ValidationError", in, err)
		}
	}
	got, err := s.Decode(url.Values{"ratio": {" 2.5 "}})
	if err != nil || got["ratio"] != 2.5 {
		t.Fatalf("ratio = %v, err = %v", got["ratio"], err)
	}
}

func TestDecode_OptionalDefaults(t *testing.T) {
	s := Schema{Fields: []Field{
		{Name: "hours", Kind: Int, Optional: true, Default: 24},
		{Name: "ratio", Kind: Float, Optional: true},
		{Name: "names", Kind: StringList, Optional: true},
		{Name: "flag", Kind: Bool, Default: true},
	}}
	got, err := s.Decode(url.Values{"hours": {"  "}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Payload{"hours": 24, "ratio": 0.0, "names": []string{}, "flag": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %#v, want %#v", got, want)
	}
}

func TestDecode_StringList(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "retainers", Kind: StringList, Check: MaxLen(3)}}}

	got, err := s.Decode(url.Values{"retainers": {" a, b ,,c "}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got["retainers"], []string{"a", "b", "c"}) {
		t.Fatalf("retainers = %#v", got["retainers"])
	}

	if _, err := s.Decode(url.Values{"retainers": {" , ,"}}); err == nil {
		t.Fatal("blank required list accepted")
	}
	if _, err := s.Decode(url.Values{"retainers": {"a,b,c,d"}}); err == nil {
		t.Fatal("MaxLen not enforced")
	}
}

func TestMinAndMaxLen(t *testing.T) {
	if Min(1)(0) == nil || Min(1)(1) != nil || Min(0.5)(0.25) == nil {
		t.Fatal("Min bounds wrong")
	}
	if Min(1)("x") != nil {
		t.Fatal("Min should ignore non-numeric values")
	}
	if MaxLen(2)("abc") == nil || MaxLen(3)("abc") != nil {
		t.Fatal("MaxLen bounds wrong")
	}
}

func TestKindString(t *testing.T) {
	if IntList.String() != "int list" || Kind(99).String() != "kind(99)" {
		t.Fatal("Kind.String mismatch")
	}
}
