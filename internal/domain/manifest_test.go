package domain

import "testing"

func TestAssetRef_ContentIDFallback(t *testing.T) {
	cases := []struct {
		ref  AssetRef
		want string
	}{
		{AssetRef{MD5Ext: "abc.png", AssetID: "zzz", DataFormat: "svg"}, "abc.png"},
		{AssetRef{AssetID: "abc", DataFormat: "SVG"}, "abc.svg"},
		{AssetRef{AssetID: "abc"}, ""},
		{AssetRef{}, ""},
	}
	for _, c := range cases {
		if got := c.ref.ContentID(); got != c.want {
			t.Fatalf("ContentID(%+v)：期望 %q，实际 %q", c.ref, c.want, got)
		}
	}
}

func TestAssetRef_Format(t *testing.T) {
	if f := (AssetRef{Kind: AssetCostume, MD5Ext: "a.SVG"}).Format(); f != FormatVector {
		t.Fatalf("svg costume 应为 vector，实际 %q", f)
	}
	if f := (AssetRef{Kind: AssetCostume, MD5Ext: "a.png"}).Format(); f != FormatRaster {
		t.Fatalf("png costume 应为 raster，实际 %q", f)
	}
	if f := (AssetRef{Kind: AssetSound, MD5Ext: "a.wav"}).Format(); f != FormatAudio {
		t.Fatalf("sound 应为 audio，实际 %q", f)
	}
}

func TestManifest_AssetCount(t *testing.T) {
	m := Manifest{Targets: []Target{
		{Costumes: make([]AssetRef, 2), Sounds: make([]AssetRef, 1)},
		{Costumes: make([]AssetRef, 1)},
	}}
	if n := m.AssetCount(); n != 4 {
		t.Fatalf("期望 4，实际 %d", n)
	}
}

func TestCanTransition(t *testing.T) {
	ok := [][2]State{
		{StateFetchingMetadata, StateFetchingManifest},
		{StateFetchingManifest, StateBuildingArchive},
		{StateBuildingArchive, StateFinalizing},
		{StateFinalizing, StateDone},
		{StateFetchingMetadata, StateFailed},
		{StateFetchingManifest, StateFailed},
	}
	for _, p := range ok {
		if !CanTransition(p[0], p[1]) {
			t.Fatalf("期望允许 %s -> %s", p[0], p[1])
		}
	}
	bad := [][2]State{
		{StateFetchingMetadata, StateBuildingArchive},
		{StateDone, StateFailed},
		{StateFailed, StateFetchingMetadata},
		{StateBuildingArchive, StateDone},
	}
	for _, p := range bad {
		if CanTransition(p[0], p[1]) {
			t.Fatalf("不应允许 %s -> %s", p[0], p[1])
		}
	}
}

func TestParseProjectID(t *testing.T) {
	if id, ok := ParseProjectID(" 1147739568 "); !ok || id != "1147739568" {
		t.Fatalf("期望解析成功，实际 id=%q ok=%v", id, ok)
	}
	for _, s := range []string{"", "  ", "1/2", "1?x", "a b"} {
		if _, ok := ParseProjectID(s); ok {
			t.Fatalf("期望 %q 被拒绝", s)
		}
	}
}
