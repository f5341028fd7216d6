package yosegi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildUnitLines(t *testing.T) {
	cases := []struct {
		unit BuildUnit
		want string
	}{
		{&PackageFileUnit{uri: "base.lua", hash: "aa"}, "PackageFile base.lua aa\n"},
		{&ExtractionInfoFileUnit{uri: "output/native/p/work/.extraction.info", hash: "bb"},
			"ExtractionInfoFile output/native/p/work/.extraction.info bb\n"},
		{&BuildInfoFileUnit{uri: "output/native/d/work/.build.info", hash: "cc"},
			"BuildInfoFile output/native/d/work/.build.info cc\n"},
		{&OutputInfoFileUnit{uri: "output/native/d/work/.output.info", hash: "dd"},
			"OutputInfoFile output/native/d/work/.output.info dd\n"},
		{&FeatureValueUnit{key: "arch", value: "arm64"}, "FeatureValue arch arm64\n"},
		{&FeatureValueUnit{key: "arch", isNil: true}, "FeatureValueNil arch\n"},
		{&RequireFileUnit{uri: "common.lua", hash: "ee"}, "RequireFile common.lua ee\n"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.unit.printLine())
	}
}

func TestBuildDescriptionOrder(t *testing.T) {
	var bld BuildDescription
	bld.addPackageFile("p.lua", "h1")
	bld.addFeatureValue("k", "v")
	bld.addNilFeatureValue("missing")
	bld.addRequireFile("r.lua", "h2")
	bld.addExtractionInfoFile("e", "h3")
	bld.addBuildInfoFile("b", "h4")
	bld.addOutputInfoFile("o", "h5")

	var buf bytes.Buffer
	bld.print(&buf)
	want := "PackageFile p.lua h1\n" +
		"FeatureValue k v\n" +
		"FeatureValueNil missing\n" +
		"RequireFile r.lua h2\n" +
		"ExtractionInfoFile e h3\n" +
		"BuildInfoFile b h4\n" +
		"OutputInfoFile o h5\n"
	assert.Equal(t, want, buf.String())
}
