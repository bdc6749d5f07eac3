package media

import "appraisal-fulfillment/services/content"

type AssetKey string

const (
	AssetMain      AssetKey = "main"
	AssetSignature AssetKey = "signature"
	AssetAge       AssetKey = "age"
)

// AssetKeys is the fixed slot order. Only main is mandatory.
var AssetKeys = []AssetKey{AssetMain, AssetSignature, AssetAge}

func (k AssetKey) Valid() bool {
	switch k {
	case AssetMain, AssetSignature, AssetAge:
		return true
	}
	return false
}

// File is one uploaded image as received.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Asset is the per-key outcome. Normalize and upload failures land in Err;
// a failed backup only leaves BackupURL empty.
type Asset struct {
	Key        AssetKey
	Raw        []byte
	Normalized []byte
	CMSID      int64
	CMSURL     string
	BackupURL  string
	Err        error
	BackupErr  error
}

func (a *Asset) Uploaded() bool { return a != nil && a.Err == nil && a.CMSURL != "" }

// Fields renders the CMS media slots. Missing or failed slots are empty strings.
func Fields(assets map[AssetKey]*Asset) content.MediaFields {
	var f content.MediaFields
	if a := assets[AssetMain]; a.Uploaded() {
		f.Main, f.MainID = a.CMSURL, a.CMSID
	}
	if a := assets[AssetSignature]; a.Uploaded() {
		f.Signature = a.CMSURL
	}
	if a := assets[AssetAge]; a.Uploaded() {
		f.Age = a.CMSURL
	}
	return f
}
