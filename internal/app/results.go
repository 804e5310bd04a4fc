package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"yashubustudio/jsonmanager/jsonmanager"
)

type resultsView struct {
	u   *uiState
	res *jsonmanager.Result
	cfg jsonmanager.Config

	w        fyne.Window
	rows     []matchRow
	list     *widget.List
	summary  *widget.Label
	pattern  *widget.Entry
	keepOrig *widget.Check
	preserve *widget.Check
}

func openResults(u *uiState, res *jsonmanager.Result, cfg jsonmanager.Config) {
	v := &resultsView{u: u, res: res, cfg: cfg}
	v.w = u.app.NewWindow("検索結果")
	v.rows = buildMatchRows(res)

	v.list = widget.NewList(
		func() int { return len(v.rows) },
		func() fyne.CanvasObject {
			check := widget.NewCheck("", nil)
			files := widget.NewLabel("")
			files.Wrapping = fyne.TextWrapWord
			return container.NewBorder(check, nil, nil, nil, files)
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id >= len(v.rows) {
				return
			}
			row := v.rows[id]
			box := obj.(*fyne.Container)
			var (
				check *widget.Check
				files *widget.Label
			)
			for _, o := range box.Objects {
				switch w := o.(type) {
				case *widget.Check:
					check = w
				case *widget.Label:
					files = w
				}
			}
			check.OnChanged = nil
			check.SetText(row.Label)
			check.SetChecked(row.Selected)
			check.OnChanged = func(on bool) {
				if id < len(v.rows) {
					v.rows[id].Selected = on
					v.updateSummary()
				}
			}
			files.SetText(strings.Join(row.Files, "\n"))
			v.list.SetItemHeight(id, check.MinSize().Height+files.MinSize().Height)
		},
	)

	v.summary = widget.NewLabel("")
	v.pattern = widget.NewEntry()
	v.pattern.SetPlaceHolder("例: backup/* または old")
	autoBtn := widget.NewButton("自動選択", func() { v.onAutoSelect() })
	allBtn := widget.NewButton("すべて選択", func() { v.setAll(true) })
	noneBtn := widget.NewButton("選択解除", func() { v.setAll(false) })

	v.keepOrig = widget.NewCheck("最初のファイルを残す", nil)
	v.keepOrig.SetChecked(true)
	v.preserve = widget.NewCheck("フォルダ構造を保持", func(on bool) {
		v.cfg.PreserveTree = on
		v.u.savePrefs(v.cfg)
	})
	v.preserve.SetChecked(cfg.PreserveTree)

	deleteBtn := widget.NewButtonWithIcon("選択を削除", theme.DeleteIcon(), func() { v.onDelete() })
	moveBtn := widget.NewButtonWithIcon("選択を移動", theme.FolderIcon(), func() { v.onMove() })
	saveBtn := widget.NewButtonWithIcon("結果を保存", theme.DocumentSaveIcon(), func() { v.onSave() })

	top := container.NewVBox(
		v.summary,
		container.NewBorder(nil, nil, nil, autoBtn, v.pattern),
		container.NewGridWithColumns(2, allBtn, noneBtn),
	)
	bottom := container.NewVBox(
		widget.NewSeparator(),
		container.NewGridWithColumns(2, v.keepOrig, v.preserve),
		container.NewGridWithColumns(3, deleteBtn, moveBtn, saveBtn),
	)
	v.w.SetContent(container.NewBorder(top, bottom, nil, nil, v.list))
	v.w.Resize(fyne.NewSize(900, 700))
	v.updateSummary()
	v.w.Show()
}

func (v *resultsView) updateSummary() {
	selected := len(selectedKeys(v.rows))
	v.summary.SetText(fmt.Sprintf("重複: %d / 近似: %d / 表示: %d / 選択: %d",
		len(v.res.DuplicateKeys), len(v.res.NearDuplicateKeys), len(v.rows), selected))
}

func (v *resultsView) setAll(on bool) {
	for i := range v.rows {
		v.rows[i].Selected = on
	}
	v.list.Refresh()
	v.updateSummary()
}

func (v *resultsView) onAutoSelect() {
	keys, err := jsonmanager.SelectByPattern(v.res, v.pattern.Text)
	if err != nil {
		dialog.ShowError(err, v.w)
		return
	}
	want := make(map[jsonmanager.Key]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	for i := range v.rows {
		v.rows[i].Selected = want[v.rows[i].Key]
	}
	v.list.Refresh()
	v.updateSummary()
	v.u.logger.Info("auto-selected matches", "pattern", v.pattern.Text, "count", len(keys))
}

func (v *resultsView) options() jsonmanager.ActionOptions {
	return jsonmanager.ActionOptions{
		KeepOriginal: v.keepOrig.Checked,
		PreserveTree: v.preserve.Checked,
	}
}

func (v *resultsView) onDelete() {
	keys := selectedKeys(v.rows)
	if len(keys) == 0 {
		dialog.ShowInformation("情報", "選択された項目がありません", v.w)
		return
	}
	msg := fmt.Sprintf("%d件の位置に属するファイルを削除しますか？", len(keys))
	dialog.ShowConfirm("削除の確認", msg, func(ok bool) {
		if !ok {
			return
		}
		out := jsonmanager.Delete(v.res, keys, v.options(), v.u.logger)
		v.finishAction("削除", out)
	}, v.w)
}

func (v *resultsView) onMove() {
	keys := selectedKeys(v.rows)
	if len(keys) == 0 {
		dialog.ShowInformation("情報", "選択された項目がありません", v.w)
		return
	}
	dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil {
			dialog.ShowError(err, v.w)
			return
		}
		if uri == nil {
			return
		}
		out, err := jsonmanager.Move(v.res, keys, uri.Path(), v.options(), v.u.logger)
		if err != nil {
			dialog.ShowError(err, v.w)
			return
		}
		v.finishAction("移動", out)
	}, v.w)
}

func (v *resultsView) finishAction(verb string, out []jsonmanager.ActionOutcome) {
	done, kept, failed := 0, 0, 0
	for _, o := range out {
		switch {
		case o.Kept:
			kept++
		case o.Err != nil:
			failed++
		default:
			done++
		}
	}
	v.rows = buildMatchRows(v.res)
	v.list.Refresh()
	v.updateSummary()
	dialog.ShowInformation(verb+"完了", fmt.Sprintf("%s: %d件 / 残したファイル: %d件 / 失敗: %d件", verb, done, kept, failed), v.w)
}

func (v *resultsView) onSave() {
	fd := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil || uc == nil {
			return
		}
		defer uc.Close()
		format := reportFormatFor(uc.URI().Path(), v.cfg.ReportFormat)
		if err := jsonmanager.WriteReport(uc, v.res, format); err != nil {
			dialog.ShowError(err, v.w)
			return
		}
		v.u.logger.Info("saved results", "path", uc.URI().Path(), "format", string(format))
	}, v.w)
	fd.SetFileName("results.txt")
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".txt", ".json", ".yaml", ".yml"}))
	fd.Show()
}

func reportFormatFor(path string, fallback jsonmanager.ReportFormat) jsonmanager.ReportFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return jsonmanager.ReportJSON
	case ".yaml", ".yml":
		return jsonmanager.ReportYAML
	case ".txt":
		return jsonmanager.ReportText
	}
	if fallback == "" {
		return jsonmanager.ReportText
	}
	return fallback
}
