// Package codec implements the JSON wire encoding of router messages.
//
// The codec is hand-written rather than reflection based:
//   - Decode reads the "type" property first, then decodes the rest of the
//     object with the decoder registered for that kind.
//   - Decode reports how many bytes it consumed, so several messages can be
//     concatenated in one transport frame with no delimiter.
//   - String fields are copied verbatim when they contain no backslash and run
//     through Unescape otherwise.
//   - Encode always writes "type" first, followed by the variant's own fields.
package codec
