// Package i18n holds the operator-facing message catalog.
//
// Keys are the English text. Japanese translations mirror the wording the
// operators of the hosting account are used to.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys.
const (
	InstanceStatus       = "instanceId=%s status=%s"
	InstanceTarget       = "instanceId=%s"
	NoInstances          = "no instances exist"
	InstanceNotFound     = "instance %s does not exist"
	DescribeFailed       = "failed to fetch instance information"
	DescribeFailedFor    = "failed to fetch information for instance %s"
	RequestSending       = "sending %[2]s request for instance %[1]s"
	RequestAccepted      = "%[2]s request for instance %[1]s accepted"
	RequestRejected      = "%[2]s request for instance %[1]s failed, run again later"
	ProcessingFailed     = "error while processing instance %s"
	StopCheck            = "checking that instance %s has stopped"
	ConfirmTargets       = "the instances above will be deleted. Press Enter to continue or Ctrl+C to abort"
	Summary              = "instances=%d terminated=%d"
	Discovering          = "fetching target instance information..."
	NothingToStop        = "no instances can be stopped"
	UnhandledError       = "an error occurred"
	PressEnterToExit     = "finished. Press Enter to exit"
	Cancelled            = "cancelled, remaining instances were not processed"
	ActionStop           = "stop"
	ActionTerminate      = "delete"
	ConfirmationDeclined = "confirmation declined, nothing was changed"
)

var japanese = map[string]string{
	InstanceStatus:       "instanceId=%s status=%s",
	InstanceTarget:       "instanceId=%s",
	NoInstances:          "インスタンスが存在しません。",
	InstanceNotFound:     "インスタンスID=%sが存在しません。",
	DescribeFailed:       "インスタンスの情報取得でエラーが発生しました。",
	DescribeFailedFor:    "インスタンスID=%sの情報取得でエラーが発生しました。",
	RequestSending:       "InstanceId=%[1]sの%[2]s要求を実行します。",
	RequestAccepted:      "InstanceId=%[1]sの%[2]s要求実行完了",
	RequestRejected:      "InstanceId=%[1]sの%[2]s要求に失敗しました。後程再実行してください。",
	ProcessingFailed:     "インスタンスID=%sの処理中にエラー発生!!",
	StopCheck:            "インスタンスID=%sの停止チェックを行います。",
	ConfirmTargets:       "上記インスタンスの削除を行います。続行する場合はエンターを押してください。停止する場合はCtrl+Cを押してください",
	Summary:              "インスタンス数=%d 削除成功数=%d",
	Discovering:          "停止対象インスタンス情報の取得・・・",
	NothingToStop:        "停止可能なインスタンスが存在しません",
	UnhandledError:       "エラー発生!!",
	PressEnterToExit:     "処理を終了します。エンターキーを押してください。",
	Cancelled:            "中断されました。残りのインスタンスは処理されていません。",
	ActionStop:           "停止",
	ActionTerminate:      "削除",
	ConfirmationDeclined: "確認が得られなかったため処理を中止しました。",
}

func init() {
	for key, ja := range japanese {
		_ = message.SetString(language.English, key, key)
		_ = message.SetString(language.Japanese, key, ja)
	}
}

// Parse maps a configured language name to a supported tag.
func Parse(name string) (language.Tag, error) {
	switch name {
	case "", "ja":
		return language.Japanese, nil
	case "en":
		return language.English, nil
	default:
		return language.Und, fmt.Errorf("unsupported language %q", name)
	}
}

// NewPrinter returns a printer for tag.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}
