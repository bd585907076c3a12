package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
)

const pngDataURIPrefix = "data:image/png;base64,"

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

// ParseQR normalizes every pairing payload shape the gateway is known to
// send ({base64}, {qrcode: "..."}, {qrcode: {base64}}, {code}, a bare
// string) into an instance.QRCode whose Image is a PNG data URI.
func ParseQR(body []byte) (instance.QRCode, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return instance.QRCode{}, nil
	}
	if !gjson.ValidBytes(body) {
		// plain text body
		return qrFromString(string(body))
	}
	return qrFromResult(gjson.ParseBytes(body))
}

func qrFromResult(res gjson.Result) (instance.QRCode, error) {
	if res.Type == gjson.String {
		return qrFromString(res.String())
	}

	state := strings.ToLower(firstString(res, "instance.state", "state", "connection"))
	if instance.FromRemoteState(state) == instance.StatusConnected {
		return instance.QRCode{Connected: true}, nil
	}

	qr := instance.QRCode{
		PairingCode: firstString(res, "pairingCode", "qrcode.pairingCode"),
		Count:       int(firstInt(res, "count", "qrcode.count")),
	}

	if img := firstString(res, "base64", "qrcode.base64", "qrcode", "qr"); img != "" {
		parsed, err := qrFromString(img)
		if err != nil {
			return instance.QRCode{}, err
		}
		qr.Image = parsed.Image
		return qr, nil
	}
	if code := firstString(res, "code", "qrcode.code"); code != "" {
		img, err := renderPNG(code)
		if err != nil {
			return instance.QRCode{}, err
		}
		qr.Image = img
	}
	return qr, nil
}

// qrFromString accepts a data URI, bare base64 PNG, or raw pairing text.
func qrFromString(s string) (instance.QRCode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return instance.QRCode{}, nil
	}
	if strings.HasPrefix(s, "data:") {
		return qrFromDataURI(s)
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && bytes.HasPrefix(decoded, pngMagic) {
		return instance.QRCode{Image: pngDataURIPrefix + s}, nil
	}
	img, err := renderPNG(s)
	if err != nil {
		return instance.QRCode{}, err
	}
	return instance.QRCode{Image: img}, nil
}

// qrFromDataURI relabels the payload as PNG only when the bytes are a PNG.
// Other image types keep the media type the gateway declared.
func qrFromDataURI(s string) (instance.QRCode, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return instance.QRCode{}, fmt.Errorf("malformed qr data uri")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return instance.QRCode{}, fmt.Errorf("qr data uri payload: %w", err)
	}
	if bytes.HasPrefix(decoded, pngMagic) {
		return instance.QRCode{Image: pngDataURIPrefix + payload}, nil
	}
	mediaType := strings.ToLower(meta[:len(meta)-len(";base64")])
	if strings.HasPrefix(mediaType, "image/") && mediaType != "image/png" {
		return instance.QRCode{Image: "data:" + mediaType + ";base64," + payload}, nil
	}
	return instance.QRCode{}, fmt.Errorf("qr data uri declares %q but is not a PNG", mediaType)
}

func renderPNG(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

func firstInt(res gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.Type == gjson.Number {
			return v.Int()
		}
	}
	return 0
}
