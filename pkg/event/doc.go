// Package event はサービス間でブローカーを介してやり取りするドメインイベントを提供する。
//
// イベントは event_type をタグとする判別共用体として表現する。
// Encode/Decode がブローカー上のJSONエンベロープとの相互変換を担う。
package event
