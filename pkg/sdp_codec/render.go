package sdp_codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/pion/sdp/v3"
)

// addressType возвращает тип адреса для c= и o= строк
func addressType(host string) string {
	if strings.Contains(host, ":") {
		return "IP6"
	}
	return "IP4"
}

// renderMedia строит m= секцию для дескриптора
func (c *Codec) renderMedia(md *negotiation.MediaDescriptor, sessionHost string) (*sdp.MediaDescription, error) {
	if md.Declined {
		return c.renderDeclined(md), nil
	}

	if md.Connector == nil || md.Connector.DataAddr() == nil {
		return nil, fmt.Errorf("нет коннектора для %s линии", md.MediaType)
	}
	dataAddr := md.Connector.DataAddr()

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  md.MediaType.String(),
			Port:   sdp.RangedPort{Value: dataAddr.Port},
			Protos: strings.Split(c.config.Proto, "/"),
		},
	}
	if md.Offered != nil && md.Offered.Proto != "" {
		media.MediaName.Protos = strings.Split(md.Offered.Proto, "/")
	}

	host := dataAddr.IP.String()
	if host != sessionHost {
		media.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(host),
			Address:     &sdp.Address{Address: host},
		}
	}

	seen := make(map[uint8]bool)
	for _, format := range md.Formats {
		pt, err := c.payloadTypeFor(md, format)
		if err != nil {
			return nil, err
		}
		if seen[pt] {
			continue
		}
		seen[pt] = true

		token := strconv.Itoa(int(pt))
		media.MediaName.Formats = append(media.MediaName.Formats, token)

		rtpmap := fmt.Sprintf("%d %s/%d", pt, format.Encoding, format.ClockRate)
		if format.MediaType == negotiation.MediaTypeAudio &&
			format.Channels != negotiation.ChannelsNotSpecified && format.Channels != 1 {
			rtpmap += "/" + strconv.Itoa(format.Channels)
		}
		media.WithValueAttribute("rtpmap", rtpmap)

		if format.Params != "" {
			media.WithValueAttribute("fmtp", token+" "+format.Params)
		}
	}
	if len(media.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("нет форматов для %s линии", md.MediaType)
	}

	if controlAddr := md.Connector.ControlAddr(); controlAddr != nil && controlAddr.Port != dataAddr.Port+1 {
		media.WithValueAttribute("rtcp", strconv.Itoa(controlAddr.Port))
	}

	for _, ext := range md.Extensions {
		id := ext.ID
		if id == 0 {
			var err error
			if id, err = c.extensions.IDFor(md.MediaType, ext.URI); err != nil {
				return nil, err
			}
		}
		value := strconv.Itoa(id)
		if ext.Direction != negotiation.DirectionSendRecv {
			value += "/" + ext.Direction.String()
		}
		value += " " + ext.URI
		if ext.Attributes != "" {
			value += " " + ext.Attributes
		}
		media.WithValueAttribute("extmap", value)
	}

	media.WithPropertyAttribute(md.Direction.String())

	for _, attr := range md.Attributes {
		media.WithValueAttribute(attr.Key, attr.Value)
	}

	return media, nil
}

// payloadTypeFor возвращает номер формата для линии. В answer используется
// номер, под которым формат указан в offer этой же линии.
func (c *Codec) payloadTypeFor(md *negotiation.MediaDescriptor, format negotiation.Format) (uint8, error) {
	if md.Offered != nil {
		if offered, ok := negotiation.FindMatch(md.Offered.Formats, format); ok &&
			offered.PayloadType >= 0 && offered.PayloadType <= dynamicPayloadTypeMax {
			return uint8(offered.PayloadType), nil
		}
	}
	return c.payloads.PayloadTypeFor(format)
}

// renderDeclined строит отклоненную линию: тип, профиль и форматы offer,
// нулевой порт и inactive
func (c *Codec) renderDeclined(md *negotiation.MediaDescriptor) *sdp.MediaDescription {
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   md.MediaType.String(),
			Port:    sdp.RangedPort{Value: 0},
			Protos:  strings.Split(c.config.Proto, "/"),
			Formats: []string{"0"},
		},
	}

	if offered := md.Offered; offered != nil {
		if offered.RawMedia != "" {
			media.MediaName.Media = offered.RawMedia
		}
		if offered.Proto != "" {
			media.MediaName.Protos = strings.Split(offered.Proto, "/")
		}
		if len(offered.RawFormats) > 0 {
			media.MediaName.Formats = append([]string(nil), offered.RawFormats...)
		}
	}

	media.WithPropertyAttribute(negotiation.DirectionInactive.String())
	return media
}
