package main

import (
	"github.com/gin-gonic/gin"
)

// handleDashboard 管理页面本身不鉴权，页面内用输入的 token 调用 /admin 接口
func handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(200, "text/html; charset=utf-8", []byte(DashboardHTML))
	}
}

// DashboardHTML Key 使用情况和最近尝试记录
const DashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Rail Gateway Admin</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 text-gray-800">
    <div id="loginModal" class="hidden fixed inset-0 flex items-center justify-center bg-black bg-opacity-40">
        <form id="loginForm" class="bg-white rounded-lg shadow p-6 w-80">
            <h2 class="text-lg font-semibold mb-4">Admin token</h2>
            <input id="tokenInput" type="password" class="w-full border rounded px-3 py-2 mb-4" autocomplete="off">
            <button type="submit" class="w-full bg-blue-600 text-white rounded py-2">Sign in</button>
            <p id="loginError" class="text-red-600 text-sm mt-2"></p>
        </form>
    </div>

    <main class="max-w-5xl mx-auto p-6">
        <div class="flex items-center justify-between mb-6">
            <h1 class="text-2xl font-bold">Rail Gateway</h1>
            <div class="text-sm text-gray-500">
                keys: <span id="keyCount">-</span> &middot; cursor: <span id="cursor">-</span>
                <button id="refreshBtn" class="ml-4 px-3 py-1 border rounded">Refresh</button>
                <button id="logoutBtn" class="ml-2 px-3 py-1 border rounded">Logout</button>
            </div>
        </div>

        <h2 class="font-semibold mb-2">Keys</h2>
        <table class="w-full bg-white shadow rounded mb-8 text-sm">
            <thead class="bg-gray-100 text-left">
                <tr><th class="p-2">Key</th><th>Success</th><th>Quota</th><th>HTTP</th><th>Transport</th><th>Bad JSON</th><th>Avg ms</th></tr>
            </thead>
            <tbody id="keysBody"></tbody>
        </table>

        <h2 class="font-semibold mb-2">Recent attempts</h2>
        <table class="w-full bg-white shadow rounded text-sm">
            <thead class="bg-gray-100 text-left">
                <tr><th class="p-2">Time</th><th>Request</th><th>Key</th><th>Path</th><th>Status</th><th>Result</th><th>ms</th></tr>
            </thead>
            <tbody id="attemptsBody"></tbody>
        </table>
    </main>

    <script>
        let token = localStorage.getItem('rail_admin_token');

        function esc(v) {
            return String(v ?? '').replace(/[&<>"]/g, c => ({'&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;'}[c]));
        }

        async function fetchAPI(url) {
            const response = await fetch(url, { headers: { 'Authorization': 'Bearer ' + token } });
            const data = await response.json().catch(() => ({}));
            if (!response.ok) {
                throw new Error(data?.error?.message || response.statusText);
            }
            return data;
        }

        async function loadDashboard() {
            try {
                const stats = await fetchAPI('/admin/stats');
                document.getElementById('keyCount').textContent = stats.key_count;
                document.getElementById('cursor').textContent = stats.cursor;
                document.getElementById('keysBody').innerHTML = stats.keys.map(k =>
                    '<tr class="border-t"><td class="p-2 font-mono">' + esc(k.key_prefix) + '</td><td>' + k.success +
                    '</td><td>' + k.quota_exceeded + '</td><td>' + k.http_errors + '</td><td>' + k.transport_errors +
                    '</td><td>' + k.invalid_json + '</td><td>' + k.avg_latency.toFixed(1) + '</td></tr>').join('');

                const attempts = await fetchAPI('/admin/attempts?limit=50');
                document.getElementById('attemptsBody').innerHTML = attempts.map(a =>
                    '<tr class="border-t"><td class="p-2">' + esc(new Date(a.created_at).toLocaleTimeString()) +
                    '</td><td class="font-mono">' + esc(a.request_id).slice(0, 8) + '</td><td class="font-mono">' + esc(a.key_prefix) +
                    '</td><td>' + esc(a.path) + '</td><td>' + (a.status_code || '-') + '</td><td>' + esc(a.result) +
                    '</td><td>' + a.duration + '</td></tr>').join('');
            } catch (err) {
                document.getElementById('loginError').textContent = err.message;
                document.getElementById('loginModal').classList.remove('hidden');
            }
        }

        document.getElementById('loginForm').addEventListener('submit', e => {
            e.preventDefault();
            token = document.getElementById('tokenInput').value.trim();
            localStorage.setItem('rail_admin_token', token);
            document.getElementById('loginModal').classList.add('hidden');
            loadDashboard();
        });
        document.getElementById('refreshBtn').addEventListener('click', loadDashboard);
        document.getElementById('logoutBtn').addEventListener('click', () => {
            localStorage.removeItem('rail_admin_token');
            location.reload();
        });

        if (token) {
            loadDashboard();
        } else {
            document.getElementById('loginModal').classList.remove('hidden');
        }
    </script>
</body>
</html>`
