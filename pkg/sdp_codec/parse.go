package sdp_codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/pion/sdp/v3"
)

// Parse разбирает текст SDP в удаленное описание. Регистраторы кодека
// не изменяются, соответствия сохраняет Commit.
func (c *Codec) Parse(text string) (*negotiation.RemoteDescription, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sessionDirection := extractDirection(sd.Attributes, negotiation.DirectionSendRecv)

	remote := &negotiation.RemoteDescription{
		SessionID:      sd.Origin.SessionID,
		SessionVersion: sd.Origin.SessionVersion,
		CallInfo:       sd.URI,
		Media:          make([]negotiation.RemoteMedia, 0, len(sd.MediaDescriptions)),
	}

	for i, md := range sd.MediaDescriptions {
		mediaType := negotiation.ParseMediaType(md.MediaName.Media)

		target, err := extractTarget(&sd, md)
		if err != nil {
			return nil, fmt.Errorf("%w: media линия %d: %v", ErrMalformed, i, err)
		}

		remote.Media = append(remote.Media, negotiation.RemoteMedia{
			Type:       mediaType,
			Formats:    c.extractFormats(md, mediaType),
			Direction:  extractDirection(md.Attributes, sessionDirection),
			Target:     target,
			Extensions: c.extractExtensions(md),
			Proto:      strings.Join(md.MediaName.Protos, "/"),
			RawFormats: append([]string(nil), md.MediaName.Formats...),
			RawMedia:   md.MediaName.Media,
		})
	}

	return remote, nil
}

// rtpmapEntry разобранный атрибут rtpmap
type rtpmapEntry struct {
	encoding  string
	clockRate uint32
	channels  int
}

// parseRtpmap разбирает значение "96 opus/48000/2"
func parseRtpmap(value string) (uint8, rtpmapEntry, error) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 {
		return 0, rtpmapEntry{}, fmt.Errorf("некорректный rtpmap: %q", value)
	}

	pt, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, rtpmapEntry{}, fmt.Errorf("некорректный payload type в rtpmap: %q", value)
	}

	codec := strings.Split(strings.TrimSpace(parts[1]), "/")
	if len(codec) < 2 {
		return 0, rtpmapEntry{}, fmt.Errorf("нет частоты в rtpmap: %q", value)
	}

	clockRate, err := strconv.ParseUint(codec[1], 10, 32)
	if err != nil {
		return 0, rtpmapEntry{}, fmt.Errorf("некорректная частота в rtpmap: %q", value)
	}

	entry := rtpmapEntry{
		encoding:  codec[0],
		clockRate: uint32(clockRate),
		channels:  negotiation.ChannelsNotSpecified,
	}
	if len(codec) >= 3 {
		channels, err := strconv.Atoi(codec[2])
		if err != nil {
			return 0, rtpmapEntry{}, fmt.Errorf("некорректное количество каналов в rtpmap: %q", value)
		}
		entry.channels = channels
	}

	return uint8(pt), entry, nil
}

// extractFormats извлекает распознанные форматы в порядке m= строки.
// Нераспознанные payload types пропускаются. Форматы из rtpmap имеют
// приоритет над статической таблицей и ранее сохраненными соответствиями.
func (c *Codec) extractFormats(md *sdp.MediaDescription, mediaType negotiation.MediaType) []negotiation.Format {
	if mediaType == negotiation.MediaTypeUnknown {
		return nil
	}

	rtpmaps := make(map[uint8]rtpmapEntry)
	fmtps := make(map[uint8]string)
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			pt, entry, err := parseRtpmap(attr.Value)
			if err != nil {
				c.log.Warnf("Пропущен атрибут rtpmap: %v", err)
				continue
			}
			rtpmaps[pt] = entry
		case "fmtp":
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) != 2 {
				continue
			}
			if pt, err := strconv.ParseUint(parts[0], 10, 8); err == nil {
				fmtps[uint8(pt)] = strings.TrimSpace(parts[1])
			}
		}
	}

	formats := make([]negotiation.Format, 0, len(md.MediaName.Formats))
	for _, token := range md.MediaName.Formats {
		value, err := strconv.ParseUint(token, 10, 8)
		if err != nil {
			continue
		}
		pt := uint8(value)

		var format negotiation.Format
		if entry, ok := rtpmaps[pt]; ok {
			format = negotiation.Format{
				MediaType:   mediaType,
				Encoding:    entry.encoding,
				ClockRate:   entry.clockRate,
				Channels:    entry.channels,
				PayloadType: int(pt),
			}
			if mediaType == negotiation.MediaTypeAudio && format.Channels == negotiation.ChannelsNotSpecified {
				format.Channels = 1
			}
		} else if static, ok := c.payloads.Lookup(pt, mediaType); ok {
			format = static.WithPayloadType(int(pt))
		} else {
			c.log.Debugf("Нераспознанный payload type %d в %s линии", pt, mediaType)
			continue
		}

		format.Params = fmtps[pt]
		formats = append(formats, format)
	}

	return formats
}

// extractDirection возвращает направление из атрибутов или fallback
func extractDirection(attributes []sdp.Attribute, fallback negotiation.Direction) negotiation.Direction {
	for _, attr := range attributes {
		if direction, ok := negotiation.ParseDirection(attr.Key); ok {
			return direction
		}
	}
	return fallback
}

// extractTarget извлекает адрес назначения потока.
// c= уровня медиа имеет приоритет над c= уровня сессии.
func extractTarget(sd *sdp.SessionDescription, md *sdp.MediaDescription) (negotiation.Target, error) {
	port := md.MediaName.Port.Value

	var connection *sdp.ConnectionInformation
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		connection = md.ConnectionInformation
	} else if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		connection = sd.ConnectionInformation
	}

	if connection == nil {
		if port == 0 {
			return negotiation.Target{}, nil
		}
		return negotiation.Target{}, fmt.Errorf("информация о соединении не найдена")
	}

	target := negotiation.Target{
		Host:     connection.Address.Address,
		DataPort: port,
	}
	if port == 0 {
		return target, nil
	}

	target.ControlPort = port + 1
	if value, ok := md.Attribute("rtcp"); ok {
		fields := strings.Fields(value)
		if len(fields) > 0 {
			if rtcpPort, err := strconv.Atoi(fields[0]); err == nil {
				target.ControlPort = rtcpPort
			}
		}
	}

	return target, nil
}

// extractExtensions извлекает RTP header extensions из extmap атрибутов
func (c *Codec) extractExtensions(md *sdp.MediaDescription) []negotiation.RTPExtension {
	var extensions []negotiation.RTPExtension

	for _, attr := range md.Attributes {
		if attr.Key != "extmap" {
			continue
		}

		var extMap sdp.ExtMap
		if err := extMap.Unmarshal("extmap:" + attr.Value); err != nil {
			c.log.Warnf("Пропущен атрибут extmap %q: %v", attr.Value, err)
			continue
		}
		if extMap.URI == nil {
			continue
		}

		uri := extMap.URI.String()
		direction, ok := negotiation.ParseDirection(extMap.Direction.String())
		if !ok {
			direction = negotiation.DirectionSendRecv
		}

		ext := negotiation.RTPExtension{URI: uri, Direction: direction, ID: extMap.Value}
		if extMap.ExtAttr != nil {
			ext.Attributes = *extMap.ExtAttr
		}
		extensions = append(extensions, ext)
	}

	return extensions
}

// Commit сохраняет динамические payload types и идентификаторы extmap
// удаленного описания для повторного использования в следующих описаниях.
// Учитывается первая линия с ненулевым портом для каждого типа медиа.
func (c *Codec) Commit(remote *negotiation.RemoteDescription) {
	if remote == nil {
		return
	}

	seen := make(map[negotiation.MediaType]bool)
	for _, media := range remote.Media {
		if media.Type == negotiation.MediaTypeUnknown || media.Target.DataPort == 0 || seen[media.Type] {
			continue
		}
		seen[media.Type] = true

		for _, format := range media.Formats {
			if !isDynamic(format.PayloadType) {
				continue
			}
			if err := c.payloads.Register(uint8(format.PayloadType), format); err != nil {
				c.log.Warnf("Не удалось зарегистрировать payload type %d: %v", format.PayloadType, err)
			}
		}
		for _, ext := range media.Extensions {
			if ext.ID == 0 {
				continue
			}
			if err := c.extensions.Register(media.Type, ext.ID, ext.URI); err != nil {
				c.log.Warnf("Не удалось зарегистрировать extmap %d: %v", ext.ID, err)
			}
		}
	}
}
